package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// DAE (dead-argument elimination) detects arguments that are either
// constant across every call site, or must-alias the same global at
// offset 0 at every call site, replaces the corresponding GetArg with the
// constant/global, shrinks argument lists at both callers and callees, and
// drops never-read return values (spec.md §4.7). Grounded directly on
// original_source/src/opt/DAE.cpp's run(): the per-argument
// constant-vs-forbidden bookkeeping and the "main's return is always kept"
// rule are carried over field-for-field.
type DAE struct {
	Alias analysis.AliasResult
}

func (d DAE) Name() string        { return "dae" }
func (d DAE) Description() string { return "removes constant/global-aliasing args and unused return values" }

func (d *DAE) Apply(m *ir.Module) bool {
	if d.Alias == nil {
		d.Alias = analysis.ComputeAlias(m)
	}
	changed := false

	// value[fn][i] = the constant every call site passes for argument i;
	// forbidden[fn][i] marks an argument proven non-constant or non-int.
	value := map[ir.FuncID]map[int]int64{}
	forbidden := map[ir.FuncID]map[int]bool{}
	resultUsed := map[ir.FuncID]bool{}

	for _, fid := range m.Functions {
		fn := m.Func(fid)
		if fn.Name == "main" {
			resultUsed[fid] = true
		}
	}

	for _, callerFid := range m.Functions {
		for _, callID := range ir.FindAllInFunc(m, callerFid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall }) {
			call := m.Op(callID)
			name, _ := call.Attrs.Name(ir.AttrName)
			callee := m.FuncByName(name)
			if callee == nil {
				continue
			}
			fid := callee.ID()
			if call.HasUses() {
				resultUsed[fid] = true
			}
			if value[fid] == nil {
				value[fid] = map[int]int64{}
			}
			if forbidden[fid] == nil {
				forbidden[fid] = map[int]bool{}
			}
			for i, operand := range call.Operands {
				if forbidden[fid][i] {
					continue
				}
				c, ok := intConstOf(m, operand)
				if !ok {
					delete(value[fid], i)
					forbidden[fid][i] = true
					continue
				}
				if prior, seen := value[fid][i]; seen {
					if prior != c {
						delete(value[fid], i)
						forbidden[fid][i] = true
					}
					continue
				}
				value[fid][i] = c
			}
		}
	}

	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if d.rewriteFunc(m, fid, value[fid], resultUsed[fid]) {
			changed = true
		}
	}
	return changed
}

func (d *DAE) rewriteFunc(m *ir.Module, fid ir.FuncID, invariant map[int]int64, resultUsed bool) bool {
	fn := m.Func(fid)
	getargs := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpGetArg })
	toRemove := map[int]bool{}
	visited := map[int]bool{}
	b := ir.NewBuilder(m)

	for _, opID := range getargs {
		op := m.Op(opID)
		idx, _ := op.Attrs.Int(ir.AttrInt)
		index := int(idx)
		visited[index] = true

		if c, ok := invariant[index]; ok {
			b.Replace(opID, ir.OpIntConst, op.Type, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: c}})
			toRemove[index] = true
			continue
		}
		alias, ok := d.Alias[opID]
		if !ok || !alias.Known || len(alias.Offsets) != 1 {
			continue
		}
		for base, offs := range alias.Offsets {
			if len(offs) == 1 && offs[0] && base.Kind == ir.AliasBaseGlobal {
				name := m.Global(base.GlobID).Name
				b.Replace(opID, ir.OpGetGlobal, op.Type, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: name}})
				toRemove[index] = true
			}
		}
	}

	for i := 0; i < len(fn.Params); i++ {
		if !visited[i] {
			toRemove[i] = true
		}
	}
	removedReturn := false
	if !resultUsed {
		for _, retID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpReturn }) {
			ret := m.Op(retID)
			if len(ret.Operands) > 0 {
				m.SetOperand(retID, 0, ir.InvalidOp)
				ret.Operands = nil
				removedReturn = true
			}
		}
	}
	if len(toRemove) == 0 {
		return removedReturn
	}

	// Shrink the parameter list, remapping remaining GetArg indices.
	newParams := make([]ir.Parameter, 0, len(fn.Params))
	remap := map[int]int{}
	for i, p := range fn.Params {
		if toRemove[i] {
			continue
		}
		remap[i] = len(newParams)
		newParams = append(newParams, p)
	}
	fn.Params = newParams

	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpGetArg }) {
		op := m.Op(opID)
		idx, _ := op.Attrs.Int(ir.AttrInt)
		if newIdx, ok := remap[int(idx)]; ok {
			op.Attrs[ir.AttrInt] = ir.Attr{Kind: ir.AttrInt, Int: int64(newIdx)}
		}
	}

	// Shrink every call site's argument list to match.
	name := fn.Name
	for _, callerFid := range m.Functions {
		for _, callID := range ir.FindAllInFunc(m, callerFid, func(op *ir.Op) bool {
			if op.Opcode != ir.OpCall {
				return false
			}
			n, _ := op.Attrs.Name(ir.AttrName)
			return n == name
		}) {
			call := m.Op(callID)
			kept := make([]ir.OpID, 0, len(call.Operands))
			for i, operand := range call.Operands {
				if toRemove[i] {
					continue
				}
				kept = append(kept, operand)
			}
			for i := range call.Operands {
				m.SetOperand(callID, i, ir.InvalidOp)
			}
			call.Operands = nil
			for _, v := range kept {
				m.AppendOperand(callID, v)
			}
		}
	}
	return true
}
