package ssaopt

import "rvopt/internal/ir"

// Select raises conditional-select idioms to SelectOp (spec.md §4.12).
// Grounded on original_source/src/opt/Select.cpp's run(): the two
// branch-diamond shapes it recognizes (both arms empty; one arm holding a
// single hoistable op) are implemented here. The source's additional
// "hoist identical op prefix out of both arms" refinement is a bonus
// simplification beyond what raises a select and is left out, matching
// spec.md §9(b)'s treatment of such refinements as non-requirements.
type Select struct{}

func (Select) Name() string        { return "select" }
func (Select) Description() string { return "raises two-way branch diamonds with a 2-operand phi into Select" }

func (Select) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if selectFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func selectFunc(m *ir.Module, fid ir.FuncID) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	changed := false
	again := true
	for again {
		again = false
		for _, bid := range append([]ir.BlockID(nil), m.Region(region).Blocks...) {
			for _, opID := range append([]ir.OpID(nil), m.Block(bid).Ops...) {
				op := m.Op(opID)
				if op.Opcode != ir.OpPhi || len(op.Operands) != 2 {
					continue
				}
				if raiseDiamondSelect(m, bid, opID) {
					changed, again = true, true
					break
				}
			}
			if again {
				break
			}
		}
	}
	return changed
}

// raiseDiamondSelect recognizes:
//
//	br %cond <bb1>, <bb2>
//	bb1: [optional single hoistable op]; goto <bb3>
//	bb2: goto <bb3>
//	bb3: %x = phi [v1, bb1], [v2, bb2]
//
// and rewrites it to a Select fed directly from pred, erasing bb1/bb2.
func raiseDiamondSelect(m *ir.Module, bid ir.BlockID, phiID ir.OpID) bool {
	op := m.Op(phiID)
	if op.Type != ir.TypeI32 && op.Type != ir.TypeI64 {
		return false
	}
	bb1, bb2 := op.PhiFrom[0], op.PhiFrom[1]
	val1, val2 := op.Operands[0], op.Operands[1]
	blk1, blk2 := m.Block(bb1), m.Block(bb2)
	if len(blk1.Preds) != 1 || len(blk2.Preds) != 1 {
		return false
	}
	pred1, pred2 := blk1.Preds[0], blk2.Preds[0]
	if pred1 != pred2 {
		return false
	}
	pred := m.Block(pred1)
	term := pred.Terminator()
	if !term.Valid() || m.Op(term).Opcode != ir.OpBranch {
		return false
	}
	termOp := m.Op(term)
	cond := termOp.Operands[0]
	trueTarget, _ := termOp.Attrs.Block(ir.AttrTarget)
	falseTarget, _ := termOp.Attrs.Block(ir.AttrElse)

	hoist1, ok1 := singleHoistable(m, blk1, val1)
	hoist2, ok2 := singleHoistable(m, blk2, val2)
	if !((len(blk1.Ops) == 1 && len(blk2.Ops) == 1) || (ok1 && len(blk2.Ops) == 1) || (ok2 && len(blk1.Ops) == 1)) {
		return false
	}

	b := ir.NewBuilder(m)
	if ok1 {
		b.MoveToCursor(hoist1, ir.Before(term, pred1))
	}
	if ok2 {
		b.MoveToCursor(hoist2, ir.Before(term, pred1))
	}

	trueVal, falseVal := val1, val2
	if bb1 != trueTarget {
		trueVal, falseVal = val2, val1
	}
	b.Replace(phiID, ir.OpSelect, op.Type, []ir.OpID{cond, trueVal, falseVal}, ir.AttrMap{})
	b.Replace(term, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: bid}})

	eraseEmptyBlock(m, bb1)
	eraseEmptyBlock(m, bb2)
	ir.RecomputePredsSuccs(m, m.Block(pred1).Region)
	return true
}

// singleHoistable reports whether blk's sole non-terminator op is a
// pure/cheap op producing val, matching original_source's hoistable()
// whitelist (arithmetic, bitwise, compares — never Phi, Load, Call).
func singleHoistable(m *ir.Module, blk *ir.BasicBlock, val ir.OpID) (ir.OpID, bool) {
	if len(blk.Ops) != 2 {
		return ir.InvalidOp, false
	}
	first := blk.Ops[0]
	if first != val {
		return ir.InvalidOp, false
	}
	op := m.Op(first)
	switch op.Opcode {
	case ir.OpAddI, ir.OpSubI, ir.OpAndI, ir.OpOrI, ir.OpXorI, ir.OpAddL,
		ir.OpEqI, ir.OpNeI, ir.OpLtI, ir.OpLeI, ir.OpGtI, ir.OpGeI, ir.OpIntConst:
		return first, true
	default:
		return ir.InvalidOp, false
	}
}

func eraseEmptyBlock(m *ir.Module, bid ir.BlockID) {
	blk := m.Block(bid)
	for _, opID := range append([]ir.OpID(nil), blk.Ops...) {
		eraseOperandsOf(m, opID)
		m.Erase(opID)
	}
	m.ForceEraseBlock(bid)
}
