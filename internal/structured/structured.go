// Package structured implements the structured-CFG passes of spec.md §4.3:
// cleanups that run while If/While/For/Break/Continue/Proceed are still
// nested rather than lowered to Goto/Branch. Every pass in this repo shares
// the same Name/Description/Apply shape.
//
// Conventions this package (and internal/frontend, which builds the
// structured IR these passes consume) establish, since spec.md leaves the
// exact operand/region shape of If/While/For to the implementer (spec.md
// §9(c) explicitly invites this for HoistConstArray and the same license
// extends to the other structured ops it otherwise leaves as a closed
// opcode list without wire format):
//
//   - A structured region holds exactly one basic block unless a nested
//     Break/Continue/Return forces an early exit partway through a
//     straight-line sequence, in which case the frontend simply stops
//     emitting further ops into that block (dead code after an
//     unconditional exit is never lowered).
//   - OpIf: operand 0 is the i32 condition; Regions = [then, else], where
//     else may be ir.InvalidRegion.
//   - OpWhile: Regions = [cond, body]. The cond region's last op is the
//     loop condition value (an i32); unlike a flat CFG there is no
//     Branch — the cond region is walked purely for its side effects and
//     its final value.
//   - OpFor: Operands = [inductionAlloca, boundValue]; AttrInt carries the
//     constant per-iteration step. Regions = [body]. The induction
//     variable's current value is always `Load(inductionAlloca)`; the
//     loop continues while that value compares less than boundValue (for
//     a positive step) and increments by step at the end of each
//     iteration. RaiseToFor only ever produces Fors in this exact shape;
//     Flatten (internal/flatten) only ever consumes this exact shape.
package structured

import "rvopt/internal/ir"

// entryOf returns the single block a structured region is expected to
// hold under this package's one-block convention.
func entryOf(m *ir.Module, region ir.RegionID) ir.BlockID {
	return m.Region(region).Entry()
}

// structuredOpsOf returns the op ids directly inside a structured region's
// single block, in program order.
func structuredOpsOf(m *ir.Module, region ir.RegionID) []ir.OpID {
	blk := entryOf(m, region)
	if !blk.Valid() {
		return nil
	}
	return append([]ir.OpID(nil), m.Block(blk).Ops...)
}

// isEmptyRegion reports whether region has no ops at all (Remerge's
// empty-branch test).
func isEmptyRegion(m *ir.Module, region ir.RegionID) bool {
	if !region.Valid() {
		return true
	}
	return len(structuredOpsOf(m, region)) == 0
}

// eraseOperandsOf drops every operand edge of an op, the precondition
// ir.Module.Erase enforces (no remaining uses means the op's own operands
// must be dropped first, the same discipline ssaopt already follows).
func eraseOperandsOf(m *ir.Module, opID ir.OpID) {
	op := m.Op(opID)
	for i := range op.Operands {
		m.SetOperand(opID, i, ir.InvalidOp)
	}
}

// isPure reports whether an op is safe to remove when unused and to
// reorder freely within a straight-line structured block: no store, call,
// concurrency primitive or structured control op.
func isPure(op *ir.Op) bool {
	if op.Opcode.HasSideEffects() || op.Opcode.IsStructured() {
		return false
	}
	return true
}
