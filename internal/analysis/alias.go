package analysis

import "rvopt/internal/ir"

// AliasResult maps every pointer-producing Op to its AliasAttr (spec.md
// §3/§4.2). Grounded on original_source/src/opt/Alias.cpp: preorder over
// the dominator tree, AllocaOp/GetGlobalOp seeds, AddL
// offset propagation, and an interprocedural fixpoint through GetArg.
type AliasResult map[ir.OpID]ir.AliasSet

// ComputeAlias runs the whole-module alias analysis.
func ComputeAlias(m *ir.Module) AliasResult {
	result := AliasResult{}
	// Intraprocedural pass, iterated until GetArg-mediated interprocedural
	// propagation (seeded from call-site arguments) stabilizes.
	changed := true
	for iterations := 0; changed && iterations < 8; iterations++ {
		changed = false
		for _, fid := range m.Functions {
			if computeFuncAlias(m, fid, result) {
				changed = true
			}
		}
	}
	return result
}

func computeFuncAlias(m *ir.Module, fid ir.FuncID, result AliasResult) bool {
	fn := m.Func(fid)
	region := fn.Region
	ir.RecomputePredsSuccs(m, region)
	dom := ir.ComputeDominance(m, region)
	changed := false

	for _, bid := range dom.Preorder() {
		blk := m.Block(bid)
		for _, opID := range blk.Ops {
			op := m.Op(opID)
			var set ir.AliasSet
			switch op.Opcode {
			case ir.OpAlloca:
				set = ir.NewAliasSet()
				set.Add(ir.AliasBase{Kind: ir.AliasBaseAlloca, OpID: opID}, 0)
			case ir.OpGetGlobal:
				name, _ := op.Attrs.Name(ir.AttrName)
				g := m.GlobalByName(name)
				if g == nil {
					set = ir.UnknownAlias()
					break
				}
				set = ir.NewAliasSet()
				set.Add(ir.AliasBase{Kind: ir.AliasBaseGlobal, GlobID: g.ID()}, 0)
			case ir.OpAddL:
				set = propagateAddL(m, result, op)
			case ir.OpPhi:
				set = ir.NewAliasSet()
				for _, v := range op.Operands {
					if s, ok := result[v]; ok {
						set.Merge(s)
					} else {
						set = ir.UnknownAlias()
						break
					}
				}
			case ir.OpGetArg:
				idx, _ := op.Attrs.Int(ir.AttrInt)
				set = argAliasFromCallSites(m, result, fid, int(idx))
			default:
				continue
			}
			if prev, ok := result[opID]; !ok || !aliasEqual(prev, set) {
				result[opID] = set
				changed = true
			}
		}
	}
	return changed
}

func propagateAddL(m *ir.Module, result AliasResult, op *ir.Op) ir.AliasSet {
	base, offsetOperand := op.Operands[0], op.Operands[1]
	baseSet, ok := result[base]
	if !ok {
		return ir.UnknownAlias()
	}
	if !baseSet.Known {
		return ir.UnknownAlias()
	}
	offsetOp := m.Op(offsetOperand)
	if offsetOp.Opcode == ir.OpIntConst {
		k, _ := offsetOp.Attrs.Int(ir.AttrInt)
		out := ir.NewAliasSet()
		for b, offs := range baseSet.Offsets {
			for off := range offs {
				if off == -1 {
					out.Add(b, -1)
				} else {
					out.Add(b, off+k)
				}
			}
		}
		return out
	}
	// Both operands unknown constants: merge bases, poison offsets to -1.
	out := ir.NewAliasSet()
	for b := range baseSet.Offsets {
		out.Add(b, -1)
	}
	if offSet, ok := result[offsetOperand]; ok && offSet.Known {
		for b := range offSet.Offsets {
			out.Add(b, -1)
		}
	}
	return out
}

func argAliasFromCallSites(m *ir.Module, result AliasResult, callee ir.FuncID, argIndex int) ir.AliasSet {
	sites := CallSites(m, callee)
	out := ir.NewAliasSet()
	for _, callID := range sites {
		call := m.Op(callID)
		if argIndex >= len(call.Operands) {
			return ir.UnknownAlias()
		}
		argVal := call.Operands[argIndex]
		s, ok := result[argVal]
		if !ok {
			continue
		}
		out.Merge(s)
	}
	return out
}

func aliasEqual(a, b ir.AliasSet) bool {
	if a.Known != b.Known {
		return false
	}
	if !a.Known {
		return true
	}
	if len(a.Offsets) != len(b.Offsets) {
		return false
	}
	for base, offs := range a.Offsets {
		bOffs, ok := b.Offsets[base]
		if !ok || len(offs) != len(bOffs) {
			return false
		}
		for o := range offs {
			if !bOffs[o] {
				return false
			}
		}
	}
	return true
}

// MustAlias: both known, single base, single concrete offset, identical
// (spec.md §4.2).
func MustAlias(result AliasResult, a, b ir.OpID) bool {
	sa, ok1 := result[a]
	sb, ok2 := result[b]
	if !ok1 || !ok2 || !sa.Known || !sb.Known {
		return false
	}
	singleA, baseA, offA := singleConcrete(sa)
	singleB, baseB, offB := singleConcrete(sb)
	return singleA && singleB && baseA == baseB && offA == offB
}

// NeverAlias: known sets whose (base, concrete-offset) pairs are disjoint
// and neither carries a -1 wildcard.
func NeverAlias(result AliasResult, a, b ir.OpID) bool {
	sa, ok1 := result[a]
	sb, ok2 := result[b]
	if !ok1 || !ok2 || !sa.Known || !sb.Known {
		return false
	}
	if hasWildcard(sa) || hasWildcard(sb) {
		return false
	}
	for base, offs := range sa.Offsets {
		bOffs, ok := sb.Offsets[base]
		if !ok {
			continue
		}
		for o := range offs {
			if bOffs[o] {
				return false
			}
		}
	}
	return true
}

// MayAlias is the complement of NeverAlias (conservative default).
func MayAlias(result AliasResult, a, b ir.OpID) bool {
	return !NeverAlias(result, a, b)
}

func singleConcrete(s ir.AliasSet) (ok bool, base ir.AliasBase, offset int64) {
	if len(s.Offsets) != 1 {
		return false, ir.AliasBase{}, 0
	}
	for b, offs := range s.Offsets {
		if len(offs) != 1 {
			return false, ir.AliasBase{}, 0
		}
		for o := range offs {
			if o == -1 {
				return false, ir.AliasBase{}, 0
			}
			return true, b, o
		}
	}
	return false, ir.AliasBase{}, 0
}

func hasWildcard(s ir.AliasSet) bool {
	for _, offs := range s.Offsets {
		if offs[-1] {
			return true
		}
	}
	return false
}
