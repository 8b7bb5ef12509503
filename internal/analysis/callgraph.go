package analysis

import "rvopt/internal/ir"

// CallGraph maps each function to the set of functions that call it,
// scanning CallOp and CloneOp — which behaves as a call for graph purposes
// (spec.md §4.2), grounded on original_source/src/opt/CallGraph.cpp.
type CallGraph map[ir.FuncID][]ir.FuncID

// ComputeCallGraph recomputes CallerAttr for every function.
func ComputeCallGraph(m *ir.Module) CallGraph {
	cg := make(CallGraph, len(m.Functions))
	for _, fid := range m.Functions {
		cg[fid] = nil
	}
	for _, fid := range m.Functions {
		calls := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
			return op.Opcode == ir.OpCall || op.Opcode == ir.OpClone
		})
		for _, callID := range calls {
			call := m.Op(callID)
			name, ok := call.Attrs.Name(ir.AttrName)
			if !ok {
				continue
			}
			callee := m.FuncByName(name)
			if callee == nil {
				continue
			}
			cg[callee.ID()] = append(cg[callee.ID()], fid)
		}
	}
	return cg
}

// Apply writes AttrCaller onto every Function in m.
func (cg CallGraph) Apply(m *ir.Module) {
	for fid, callers := range cg {
		fn := m.Func(fid)
		fn.Attrs[ir.AttrCaller] = ir.Attr{Kind: ir.AttrCaller, Callers: callers}
	}
}

// CallSites returns every CallOp/CloneOp in the module that targets callee.
func CallSites(m *ir.Module, callee ir.FuncID) []ir.OpID {
	name := m.Func(callee).Name
	var sites []ir.OpID
	for _, fid := range m.Functions {
		calls := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
			if op.Opcode != ir.OpCall && op.Opcode != ir.OpClone {
				return false
			}
			n, _ := op.Attrs.Name(ir.AttrName)
			return n == name
		})
		sites = append(sites, calls...)
	}
	return sites
}
