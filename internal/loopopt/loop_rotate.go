package loopopt

import "rvopt/internal/ir"

// LoopRotate turns a top-tested loop (header branches out on every
// iteration, including the first) into a bottom-tested one: it clones the
// header's condition-computing ops into the latch so the backward branch
// tests the condition directly, letting LICM treat the loop body as always
// executing at least once below the rotated check (spec.md §4.9).
//
// Precondition, checked and skipped rather than assumed: the header must
// contain no Phi. internal/flatten's own While/For headers are exactly
// this shape (a Load/Lt pair, or nothing at all for a plain While whose
// condition was already hoisted) until Mem2Reg runs; once Mem2Reg has
// turned the induction variable into a header Phi, rotating would need to
// clone the Phi's loop-carried operand through the latch, which requires
// picking the correct per-predecessor value rather than the header's own
// — a real but separate piece of machinery this conservative pass doesn't
// attempt.
type LoopRotate struct{}

func (LoopRotate) Name() string        { return "loop-rotate" }
func (LoopRotate) Description() string { return "duplicates a loop's header test into its latch" }

func (LoopRotate) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		dom := ir.ComputeDominance(m, region)
		for _, loop := range BuildLoopForest(m, region, dom) {
			if rotateOne(m, loop) {
				changed = true
			}
		}
	}
	return changed
}

func rotateOne(m *ir.Module, loop *Loop) bool {
	if len(loop.Latches) != 1 {
		return false
	}
	latch := loop.Latches[0]
	header := m.Block(loop.Header)
	for _, opID := range header.Ops {
		if m.Op(opID).Opcode == ir.OpPhi {
			return false
		}
	}
	term := header.Terminator()
	if !term.Valid() || m.Op(term).Opcode != ir.OpBranch {
		return false
	}
	latchTerm := m.Block(latch).Terminator()
	if !latchTerm.Valid() || m.Op(latchTerm).Opcode != ir.OpGoto {
		return false
	}
	if t, _ := m.Op(latchTerm).Attrs.Block(ir.AttrTarget); t != loop.Header {
		return false
	}

	b := ir.NewBuilder(m)
	cloneMap := map[ir.OpID]ir.OpID{}
	b.SetCursor(ir.Before(latchTerm, latch))
	for _, opID := range header.Ops {
		if opID == term {
			continue
		}
		op := m.Op(opID)
		operands := make([]ir.OpID, len(op.Operands))
		for i, o := range op.Operands {
			if mapped, ok := cloneMap[o]; ok {
				operands[i] = mapped
			} else {
				operands[i] = o
			}
		}
		clone := b.Create(op.Opcode, op.Type, operands, op.Attrs.Clone())
		cloneMap[opID] = clone
	}

	branch := m.Op(term)
	cond := branch.Operands[0]
	if mapped, ok := cloneMap[cond]; ok {
		cond = mapped
	}
	target, _ := branch.Attrs.Block(ir.AttrTarget)
	elseTarget, _ := branch.Attrs.Block(ir.AttrElse)
	b.Replace(latchTerm, ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: target},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: elseTarget},
	})

	ir.RecomputePredsSuccs(m, m.Block(loop.Header).Region)
	return true
}
