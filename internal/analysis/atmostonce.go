package analysis

import "rvopt/internal/ir"

// AtMostOnce maps every function to whether it is statically callable at
// most once per program execution (spec.md §4.2, Glossary): zero callers,
// or exactly one non-self caller with exactly one call site to it, and
// that call site is not transitively nested inside any While/For. Grounded
// on original_source/src/opt/AtMostOnce.cpp.
type AtMostOnce map[ir.FuncID]bool

func ComputeAtMostOnce(m *ir.Module, cg CallGraph) AtMostOnce {
	out := make(AtMostOnce, len(m.Functions))
	for _, fid := range m.Functions {
		out[fid] = isAtMostOnce(m, cg, fid)
	}
	return out
}

func isAtMostOnce(m *ir.Module, cg CallGraph, fid ir.FuncID) bool {
	callers := cg[fid]
	nonSelf := 0
	for _, c := range callers {
		if c != fid {
			nonSelf++
		}
	}
	if nonSelf == 0 {
		return true
	}
	if nonSelf > 1 {
		return false
	}
	sites := CallSites(m, fid)
	count := 0
	var siteOp ir.OpID
	for _, s := range sites {
		caller := ir.GetParentFunc(m, m.Op(s).Block)
		if caller != fid {
			count++
			siteOp = s
		}
	}
	if count != 1 {
		return false
	}
	return !nestedInLoop(m, siteOp)
}

// nestedInLoop reports whether op's block lies inside a While/For
// structured region, or (post-flattening) inside a natural loop's body —
// checked conservatively here via the structured-op ancestry, since
// AtMostOnce only needs to run pre-flatten (it feeds EarlyInline).
func nestedInLoop(m *ir.Module, opID ir.OpID) bool {
	block := m.Op(opID).Block
	region := m.Block(block).Region
	for {
		r := m.Region(region)
		if !r.OwnerOp.Valid() {
			return false
		}
		owner := m.Op(r.OwnerOp)
		if owner.Opcode == ir.OpWhile || owner.Opcode == ir.OpFor {
			return true
		}
		region = m.Block(owner.Block).Region
	}
}

func (a AtMostOnce) Apply(m *ir.Module) {
	for fid, v := range a {
		fn := m.Func(fid)
		fn.Attrs[ir.AttrAtMostOnce] = ir.Attr{Kind: ir.AttrAtMostOnce, Bool: v}
	}
}
