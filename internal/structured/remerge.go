package structured

import "rvopt/internal/ir"

// Remerge erases structured control ops that have become no-ops: an If
// whose then- and else-regions are both empty, or whose condition has no
// side effects and exactly one branch is taken unconditionally once
// EarlyConstFold has already reduced it to a constant (that case is folded
// directly by RegularFold/EarlyConstFold's OpBranch rule on the flat CFG;
// here Remerge only has the narrower pre-flatten case of literally empty
// bodies to clean up, matching spec.md §4.3's "fold sequences of identical
// empty basic blocks" restated over nested regions instead of blocks).
type Remerge struct{}

func (Remerge) Name() string        { return "remerge" }
func (Remerge) Description() string { return "erases structured ops with empty bodies" }

func (Remerge) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		if remergeFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func remergeFunc(m *ir.Module, fid ir.FuncID) bool {
	changed := false
	for {
		roundChanged := false
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpIf }) {
			op := m.Op(opID)
			if op.Opcode != ir.OpIf {
				continue
			}
			thenEmpty := isEmptyRegion(m, op.Regions[0])
			elseEmpty := len(op.Regions) < 2 || isEmptyRegion(m, op.Regions[1])
			if !thenEmpty || !elseEmpty {
				continue
			}
			if !isSideEffectFree(m, op.Operands[0]) {
				continue
			}
			eraseOperandsOf(m, opID)
			m.Erase(opID)
			roundChanged = true
		}
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpWhile || op.Opcode == ir.OpFor }) {
			op := m.Op(opID)
			bodyRegion := op.Regions[len(op.Regions)-1]
			if !isEmptyRegion(m, bodyRegion) {
				continue
			}
			if op.Opcode == ir.OpWhile && !isEmptyRegion(m, op.Regions[0]) {
				continue // condition region may have side effects per iteration
			}
			eraseOperandsOf(m, opID)
			m.Erase(opID)
			roundChanged = true
		}
		if !roundChanged {
			break
		}
		changed = true
	}
	return changed
}

// isSideEffectFree reports whether opID's defining subtree (transitively,
// within the current block) is free of calls/stores, so erasing the If
// that merely evaluates it as a discarded condition is safe.
func isSideEffectFree(m *ir.Module, opID ir.OpID) bool {
	op := m.Op(opID)
	if op.Opcode.HasSideEffects() {
		return false
	}
	for _, operand := range op.Operands {
		if operand.Valid() && !isSideEffectFree(m, operand) {
			return false
		}
	}
	return true
}
