package ssaopt

import "rvopt/internal/ir"

// SimplifyCFG merges a block into its single predecessor when that
// predecessor has it as its only successor, folding single-operand Phis
// into their sole defining value along the way (spec.md §4.12). Grounded
// directly on original_source/src/opt/SimplifyCFG.cpp's runImpl: the
// source's if-else-combination follow-up is left as a documented
// non-requirement (spec.md §9(b) lists it among the commented-out TODOs of
// the original).
type SimplifyCFG struct{}

func (SimplifyCFG) Name() string        { return "simplify-cfg" }
func (SimplifyCFG) Description() string { return "merges single-pred/single-succ block chains" }

func (SimplifyCFG) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if simplifyFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func simplifyFunc(m *ir.Module, fid ir.FuncID) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	changed := false
	again := true
	for again {
		again = false
		for _, bid := range append([]ir.BlockID(nil), m.Region(region).Blocks...) {
			if mergeIfSoleSuccessor(m, bid) {
				changed, again = true, true
				break
			}
		}
	}
	return changed
}

// mergeIfSoleSuccessor inlines bb's sole successor into bb when that
// successor has bb as its only predecessor, matching the source's
// runImpl body-for-body.
func mergeIfSoleSuccessor(m *ir.Module, bb ir.BlockID) bool {
	blk := m.Block(bb)
	if len(blk.Succs) != 1 {
		return false
	}
	succ := blk.Succs[0]
	if succ == bb {
		return false
	}
	succBlk := m.Block(succ)
	if len(succBlk.Preds) != 1 || succBlk.Preds[0] != bb {
		return false
	}

	// succ's phis must be single-operand (the only predecessor is bb);
	// replace each with its sole defining value.
	for _, opID := range append([]ir.OpID(nil), succBlk.Ops...) {
		op := m.Op(opID)
		if op.Opcode != ir.OpPhi {
			continue
		}
		if len(op.Operands) != 1 {
			return false
		}
		m.ReplaceAllUsesWith(opID, op.Operands[0])
		m.SetOperand(opID, 0, ir.InvalidOp)
		m.Erase(opID)
	}

	// Remove bb's terminator (the goto to succ).
	term := blk.Terminator()
	if term.Valid() {
		eraseOperandsOf(m, term)
		m.Erase(term)
	}

	// Move every remaining op of succ onto the end of bb.
	b := ir.NewBuilder(m)
	for _, opID := range append([]ir.OpID(nil), succBlk.Ops...) {
		b.MoveToCursor(opID, ir.AtBlockEnd(bb))
	}

	// Retarget successors-of-successors to point at bb, rewriting their
	// phi FromAttrs from succ to bb.
	for _, s := range append([]ir.BlockID(nil), m.Block(succ).Succs...) {
		sblk := m.Block(s)
		for i, p := range sblk.Preds {
			if p == succ {
				sblk.Preds[i] = bb
			}
		}
		for _, opID := range sblk.Ops {
			op := m.Op(opID)
			if op.Opcode != ir.OpPhi {
				continue
			}
			for i, from := range op.PhiFrom {
				if from == succ {
					op.PhiFrom[i] = bb
				}
			}
		}
	}

	ir.RecomputePredsSuccs(m, m.Block(bb).Region)
	m.ForceEraseBlock(succ)
	return true
}
