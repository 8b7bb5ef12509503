package loopopt

import "rvopt/internal/ir"

// Induction is a header Phi that steps by a compile-time-constant amount
// each iteration: phi = Initial on entry, phi = phi Step on every
// subsequent iteration (spec.md §4.9's "simplifies induction variables via
// a small SCEV", a scaled-down form of classical scalar evolution that
// only recognizes the single shape internal/flatten's For lowering and
// Mem2Reg's Phi promotion ever produce — affine, one step per latch).
type Induction struct {
	Phi     ir.OpID
	Initial ir.OpID // value on the preheader edge
	Step    int64   // signed delta added on the latch edge
}

// DetectInductions finds every header Phi of loop shaped as an affine
// induction: one incoming operand from the pre-header (the initial value)
// and one from the latch computed as an AddI of the Phi itself and an
// IntConst (the step).
func DetectInductions(m *ir.Module, loop *Loop) []Induction {
	if !loop.Preheader.Valid() || len(loop.Latches) != 1 {
		return nil
	}
	latch := loop.Latches[0]
	var out []Induction
	for _, opID := range m.Block(loop.Header).Ops {
		op := m.Op(opID)
		if op.Opcode != ir.OpPhi {
			continue
		}
		initial := ir.PhiOperandFor(m, opID, loop.Preheader)
		latchVal := ir.PhiOperandFor(m, opID, latch)
		if !initial.Valid() || !latchVal.Valid() {
			continue
		}
		step, ok := stepOf(m, opID, latchVal)
		if !ok {
			continue
		}
		out = append(out, Induction{Phi: opID, Initial: initial, Step: step})
	}
	return out
}

// stepOf recognizes latchVal as phi (+|-) constant.
func stepOf(m *ir.Module, phi, latchVal ir.OpID) (int64, bool) {
	op := m.Op(latchVal)
	switch op.Opcode {
	case ir.OpAddI:
		return constOperand(m, op, phi)
	case ir.OpSubI:
		if op.Operands[0] != phi {
			return 0, false
		}
		c, ok := intConstOf(m, op.Operands[1])
		if !ok {
			return 0, false
		}
		return -c, true
	}
	return 0, false
}

func constOperand(m *ir.Module, op *ir.Op, phi ir.OpID) (int64, bool) {
	if op.Operands[0] == phi {
		return intConstOf(m, op.Operands[1])
	}
	if op.Operands[1] == phi {
		return intConstOf(m, op.Operands[0])
	}
	return 0, false
}

func intConstOf(m *ir.Module, opID ir.OpID) (int64, bool) {
	op := m.Op(opID)
	if op.Opcode != ir.OpIntConst {
		return 0, false
	}
	v, ok := op.Attrs.Int(ir.AttrInt)
	return v, ok
}

// TripCount returns the number of times loop's header executes before
// iv's bound test fails, when the header branch compares iv.Phi against a
// loop-invariant bound with LtI and both the initial value and the bound
// are compile-time constants. ok is false whenever any premise doesn't
// hold, including a non-positive step paired with an increasing bound
// (spec.md scopes SCEV to the forward-counting case internal/flatten's
// For loop produces; anything else is left to later full-generality work).
func TripCount(m *ir.Module, loop *Loop, iv Induction) (count int64, ok bool) {
	term := m.Block(loop.Header).Terminator()
	if !term.Valid() || m.Op(term).Opcode != ir.OpBranch {
		return 0, false
	}
	cond := m.Op(m.Op(term).Operands[0])
	if cond.Opcode != ir.OpLtI || cond.Operands[0] != iv.Phi {
		return 0, false
	}
	initial, ok := intConstOf(m, iv.Initial)
	if !ok {
		return 0, false
	}
	bound, ok := intConstOf(m, cond.Operands[1])
	if !ok {
		return 0, false
	}
	if iv.Step <= 0 {
		return 0, false
	}
	if bound <= initial {
		return 0, true
	}
	return (bound - initial + iv.Step - 1) / iv.Step, true
}
