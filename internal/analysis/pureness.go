// Package analysis implements the dataflow analyses of spec.md §4.2:
// Pureness, CallGraph, Alias, Range, AtMostOnce. Each returns a fresh
// result; none is cached on the IR (spec.md §9: store in the pass context,
// invalidate aggressively after any mutation), grounded on
// original_source/src/opt/{Pureness,CallGraph,Alias,Range,AtMostOnce}.cpp.
package analysis

import "rvopt/internal/ir"

// Purity maps every function to whether it is pure: it (transitively)
// neither touches globals, calls an external function, nor performs I/O or
// concurrency primitives (spec.md §3 invariant).
type Purity map[ir.FuncID]bool

// ComputePurity runs the fixed-point propagation of
// original_source/src/opt/Pureness.cpp: a function is immediately impure if
// it contains a GetGlobal, an external call, or a concurrency op; otherwise
// it's impure iff it calls an impure function, iterated to a fixpoint.
func ComputePurity(m *ir.Module) Purity {
	purity := make(Purity, len(m.Functions))
	immediate := make(map[ir.FuncID]bool, len(m.Functions))
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		immediate[fid] = scanImmediateImpure(m, fn)
		purity[fid] = !immediate[fid]
	}

	changed := true
	for changed {
		changed = false
		for _, fid := range m.Functions {
			if !purity[fid] {
				continue
			}
			calls :=ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
				return op.Opcode == ir.OpCall || op.Opcode == ir.OpClone
			})
			for _, callID := range calls {
				call := m.Op(callID)
				name, _ := call.Attrs.Name(ir.AttrName)
				callee := m.FuncByName(name)
				if callee == nil {
					// external call: treated as impure unless the
					// front-end marked it a known-pure intrinsic via
					// AttrImpure == false explicitly (not modeled; default
					// conservative).
					purity[fid] = false
					changed = true
					break
				}
				if !purity[callee.ID()] {
					purity[fid] = false
					changed = true
					break
				}
			}
		}
	}
	return purity
}

func scanImmediateImpure(m *ir.Module, fn *ir.Function) bool {
	ops := ir.FindAllInFunc(m, fn.ID(), func(op *ir.Op) bool {
		switch op.Opcode {
		case ir.OpGetGlobal, ir.OpClone, ir.OpJoin, ir.OpWake:
			return true
		default:
			return false
		}
	})
	return len(ops) > 0
}

// Apply writes AttrImpure onto every Function in m.
func (p Purity) Apply(m *ir.Module) {
	for fid, pure := range p {
		fn := m.Func(fid)
		fn.Attrs[ir.AttrImpure] = ir.Attr{Kind: ir.AttrImpure, Bool: !pure}
	}
}

// IsOpPure reports whether op itself has no side effect, given function
// purity for any OpCall it contains (used by DCE/GVN).
func IsOpPure(m *ir.Module, purity Purity, op *ir.Op) bool {
	switch op.Opcode {
	case ir.OpStore, ir.OpClone, ir.OpJoin, ir.OpWake:
		return false
	case ir.OpCall:
		name, _ := op.Attrs.Name(ir.AttrName)
		callee := m.FuncByName(name)
		if callee == nil {
			return false
		}
		return purity[callee.ID()]
	default:
		return !op.Opcode.IsTerminator()
	}
}
