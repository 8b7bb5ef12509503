package structured

import "rvopt/internal/ir"

// Parallelizable marks with AttrParallelizable every loop whose body
// contains no Call (impure or not — even a pure call might recurse into
// something with hidden loop-carried state this analysis can't see), no
// concurrency op, and no nested loop (nested parallel loops are a separate,
// harder question spec.md §9 doesn't ask this implementation to answer).
// The mark is a hint internal/loopopt's Vectorize pass consults (spec.md
// §4.3/§4.9's ARM-only vectorization). Loads and stores in the body are not
// examined, so a marked loop can still carry a dependency from one
// iteration to the next through memory.
type Parallelizable struct{}

func (Parallelizable) Name() string { return "parallelizable" }
func (Parallelizable) Description() string {
	return "marks loops whose bodies have no calls, concurrency ops or nested loops"
}

func (Parallelizable) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
			return op.Opcode == ir.OpWhile || op.Opcode == ir.OpFor
		}) {
			if markIfParallelizable(m, opID) {
				changed = true
			}
		}
	}
	return changed
}

func markIfParallelizable(m *ir.Module, loopID ir.OpID) bool {
	op := m.Op(loopID)
	if op.Attrs.Bool(ir.AttrParallelizable) {
		return false
	}
	bodyRegion := op.Regions[len(op.Regions)-1]
	ok := true
	for _, opID := range ir.FindAll(m, bodyRegion, func(*ir.Op) bool { return true }) {
		inner := m.Op(opID)
		switch inner.Opcode {
		case ir.OpCall, ir.OpClone, ir.OpJoin, ir.OpWake, ir.OpWhile, ir.OpFor:
			ok = false
		}
		if !ok {
			break
		}
	}
	if !ok {
		return false
	}
	op.Attrs[ir.AttrParallelizable] = ir.Attr{Kind: ir.AttrParallelizable, Bool: true}
	return true
}
