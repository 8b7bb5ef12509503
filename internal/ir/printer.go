package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Print renders m as text, used by --dump-mid-ir and --print-before/after.
// The module has no parser for this text, so it is never read back and no
// dump-and-reparse round trip is tested.
func Print(m *Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s {\n", m.Name)
	for _, gid := range m.Globals {
		g := m.Global(gid)
		fmt.Fprintf(&sb, "  global %s : %s[%v] size=%d zero=%v\n", g.Name, g.ElemType, g.Dims, g.Size, g.AllZero)
	}
	for _, ca := range m.ConstArrays {
		fmt.Fprintf(&sb, "  const %s : %s[%d]\n", ca.Name, ca.ElemType, len(ca.IntData)+len(ca.FloatData))
	}
	for _, fid := range m.Functions {
		printFunc(&sb, m, fid)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func printFunc(sb *strings.Builder, m *Module, fid FuncID) {
	fn := m.Func(fid)
	var params []string
	for _, p := range fn.Params {
		params = append(params, fmt.Sprintf("%s: %s", p.Name, p.Type))
	}
	fmt.Fprintf(sb, "  func %s(%s) -> %s {\n", fn.Name, strings.Join(params, ", "), fn.ReturnType)
	printRegion(sb, m, fn.Region, "    ")
	sb.WriteString("  }\n")
}

func printRegion(sb *strings.Builder, m *Module, region RegionID, indent string) {
	r := m.Region(region)
	for _, bid := range r.Blocks {
		blk := m.Block(bid)
		fmt.Fprintf(sb, "%s%s:\n", indent, blk.Label)
		for _, opID := range blk.Ops {
			printOp(sb, m, opID, indent+"  ")
		}
	}
}

func printOp(sb *strings.Builder, m *Module, opID OpID, indent string) {
	op := m.Op(opID)
	result := ""
	if op.HasResult() {
		result = fmt.Sprintf("%%%d:%s = ", opID, op.Type)
	}
	var operands []string
	if op.Opcode == OpPhi {
		for i, v := range op.Operands {
			operands = append(operands, fmt.Sprintf("[%s: %%%d]", m.Block(op.PhiFrom[i]).Label, v))
		}
	} else {
		for _, v := range op.Operands {
			operands = append(operands, fmt.Sprintf("%%%d", v))
		}
	}
	fmt.Fprintf(sb, "%s%s%s %s%s\n", indent, result, op.Opcode, strings.Join(operands, ", "), formatAttrs(m, op))
	for _, rid := range op.Regions {
		if rid.Valid() {
			fmt.Fprintf(sb, "%s{\n", indent)
			printRegion(sb, m, rid, indent+"  ")
			fmt.Fprintf(sb, "%s}\n", indent)
		}
	}
}

func formatAttrs(m *Module, op *Op) string {
	if len(op.Attrs) == 0 {
		return ""
	}
	keys := make([]int, 0, len(op.Attrs))
	for k := range op.Attrs {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	var parts []string
	for _, k := range keys {
		a := op.Attrs[AttrKind(k)]
		switch a.Kind {
		case AttrInt:
			parts = append(parts, fmt.Sprintf("int=%d", a.Int))
		case AttrFloat:
			parts = append(parts, fmt.Sprintf("float=%g", a.Float))
		case AttrName:
			parts = append(parts, fmt.Sprintf("name=%s", a.Name))
		case AttrSize:
			parts = append(parts, fmt.Sprintf("size=%d", a.Size))
		case AttrDimension:
			parts = append(parts, fmt.Sprintf("dims=%v", a.Dims))
		case AttrTarget:
			parts = append(parts, fmt.Sprintf("target=%s", m.Block(a.Block).Label))
		case AttrElse:
			parts = append(parts, fmt.Sprintf("else=%s", m.Block(a.Block).Label))
		case AttrImpure:
			if a.Bool {
				parts = append(parts, "impure")
			}
		case AttrAtMostOnce:
			if a.Bool {
				parts = append(parts, "at-most-once")
			}
		case AttrFP:
			if a.Bool {
				parts = append(parts, "fp")
			}
		case AttrRange:
			if a.Range.Known {
				parts = append(parts, fmt.Sprintf("range=[%d,%d]", a.Range.Lo, a.Range.Hi))
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " {" + strings.Join(parts, ", ") + "}"
}
