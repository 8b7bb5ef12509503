package ssaopt

import "rvopt/internal/ir"

// AggressiveDCE is a mark-sweep DCE from explicit roots — Returns, Calls,
// Stores, Branches, Gotos and concurrency ops — rather than DCE's
// pure-with-zero-uses fixpoint (spec.md §4.7). Every Call is a root, pure or
// not, so a pure Call whose result is unused is kept. It catches dead cycles of
// mutually-referencing ops (e.g. self-referential Phis) that the
// zero-uses-only fixpoint of DCE cannot.
type AggressiveDCE struct{}

func (AggressiveDCE) Name() string { return "aggressive-dce" }
func (AggressiveDCE) Description() string {
	return "mark-sweep DCE from side-effecting roots, catches dead cycles"
}

func (AggressiveDCE) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if sweepFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func sweepFunc(m *ir.Module, fid ir.FuncID) bool {
	live := map[ir.OpID]bool{}
	var mark func(ir.OpID)
	mark = func(opID ir.OpID) {
		if !opID.Valid() || live[opID] {
			return
		}
		live[opID] = true
		op := m.Op(opID)
		for _, operand := range op.Operands {
			mark(operand)
		}
	}

	roots := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
		switch op.Opcode {
		case ir.OpReturn, ir.OpStore, ir.OpBranch, ir.OpGoto,
			ir.OpCall, ir.OpClone, ir.OpJoin, ir.OpWake:
			return true
		default:
			return false
		}
	})
	for _, r := range roots {
		mark(r)
	}

	changed := false
	var dead []ir.OpID
	for _, opID := range ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true }) {
		if live[opID] {
			continue
		}
		op := m.Op(opID)
		if op.Opcode == ir.OpInvalid || op.IsTerminator() {
			continue
		}
		// Every dead op drops its operands before any is erased, so ops that
		// only use each other are left with no uses.
		eraseOperandsOf(m, opID)
		dead = append(dead, opID)
	}
	for _, opID := range dead {
		if m.Op(opID).HasUses() {
			continue
		}
		m.Erase(opID)
		changed = true
	}
	return changed
}
