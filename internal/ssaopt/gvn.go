package ssaopt

import (
	"fmt"
	"sort"

	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// GVN is dominator-scoped value numbering, Briggs-style (spec.md §4.6).
// Every pure op is assigned a canonical key in a table scoped by the
// dominator tree; the table is restored on dominator-tree exit so siblings
// never see each other's numbers.
type GVN struct {
	Purity analysis.Purity
}

func (g GVN) Name() string        { return "gvn" }
func (g GVN) Description() string { return "dominator-scoped value numbering, redundant pure ops replaced" }

func (g *GVN) Apply(m *ir.Module) bool {
	if g.Purity == nil {
		g.Purity = analysis.ComputePurity(m)
	}
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if gvnFunc(m, fid, g.Purity) {
			changed = true
		}
	}
	return changed
}

type scope struct {
	table  map[string]ir.OpID
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{table: map[string]ir.OpID{}, parent: parent}
}

func (s *scope) lookup(key string) (ir.OpID, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.table[key]; ok {
			return v, true
		}
	}
	return ir.InvalidOp, false
}

func gvnFunc(m *ir.Module, fid ir.FuncID, purity analysis.Purity) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	dom := ir.ComputeDominance(m, region)
	changed := false
	var walk func(ir.BlockID, *scope)
	walk = func(blk ir.BlockID, parent *scope) {
		sc := newScope(parent)
		for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
			op := m.Op(opID)
			if !op.HasResult() || !analysis.IsOpPure(m, purity, op) || op.Opcode == ir.OpAlloca {
				continue
			}
			key := canonicalKey(m, op)
			if prior, ok := sc.lookup(key); ok && prior != opID {
				m.ReplaceAllUsesWith(opID, prior)
				if !op.HasUses() {
					eraseOperandsOf(m, opID)
					m.Erase(opID)
				}
				changed = true
				continue
			}
			sc.table[key] = opID
		}
		for _, child := range dom.Children(blk) {
			walk(child, sc)
		}
	}
	entry := m.Region(region).Entry()
	if entry.Valid() {
		walk(entry, nil)
	}
	return changed
}

// canonicalKey builds (opcode, operand-VNs, attrs) as spec.md §4.6 requires,
// sorting operand VNs for commutative opcodes only. Phi is not commutative:
// its Operands are positional against the block's Preds order, so two Phis
// merging the same values along different predecessor edges get distinct
// keys rather than being wrongly unified.
func canonicalKey(m *ir.Module, op *ir.Op) string {
	operands := append([]ir.OpID(nil), op.Operands...)
	if op.Opcode.IsCommutative() {
		sort.Slice(operands, func(i, j int) bool { return operands[i] < operands[j] })
	}
	return fmt.Sprintf("%d|%v|%s", op.Opcode, operands, attrKey(op))
}

func attrKey(op *ir.Op) string {
	switch op.Opcode {
	case ir.OpIntConst:
		v, _ := op.Attrs.Int(ir.AttrInt)
		return fmt.Sprintf("i%d", v)
	case ir.OpFloatConst:
		a := op.Attrs[ir.AttrFloat]
		return fmt.Sprintf("f%v", a.Float)
	case ir.OpGetGlobal:
		n, _ := op.Attrs.Name(ir.AttrName)
		return "g" + n
	case ir.OpGetArg:
		v, _ := op.Attrs.Int(ir.AttrInt)
		return fmt.Sprintf("a%d", v)
	default:
		return ""
	}
}
