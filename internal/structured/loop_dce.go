package structured

import "rvopt/internal/ir"

// LoopDCE erases unused pure ops to a fixpoint while the CFG is still
// structured, so loop bodies entering RaiseToFor/flattening carry no dead
// weight (spec.md §4.3). It is narrower than internal/ssaopt.DCE: it never
// touches blocks or functions, only individual pure, unused ops, since
// block/function-level liveness needs the flat CFG's predecessor/successor
// edges this stage doesn't have yet.
type LoopDCE struct{}

func (LoopDCE) Name() string        { return "loop-dce" }
func (LoopDCE) Description() string { return "erases unused pure ops before flattening" }

func (LoopDCE) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		for {
			roundChanged := false
			for _, opID := range ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true }) {
				op := m.Op(opID)
				if op.Opcode == ir.OpInvalid || op.HasUses() {
					continue
				}
				if !isPure(op) {
					continue
				}
				if op.Opcode.IsStructured() {
					continue // handled by Remerge's emptiness test, not raw unused-result
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
	}
	return changed
}
