// Package ssaopt implements the flattened-CFG SSA optimizer passes of
// spec.md §4.5-§4.12 over the arena-indexed rvopt IR.
package ssaopt

import "rvopt/internal/ir"

// Mem2Reg promotes stack-only allocas to SSA values (spec.md §4.5):
// iterated-dominance-frontier Phi placement followed by a renaming pass
// that walks the CFG depth-first from the entry block (renameFrom), not the
// dominator tree, and promotes already-built allocas in place.
type Mem2Reg struct{}

func (Mem2Reg) Name() string { return "mem2reg" }
func (Mem2Reg) Description() string {
	return "promotes stack-only allocas to SSA Phis"
}

func (Mem2Reg) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if promoteFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func promoteFunc(m *ir.Module, fid ir.FuncID) bool {
	fn := m.Func(fid)
	region := fn.Region
	ir.RecomputePredsSuccs(m, region)
	allocas := eligibleAllocas(m, fid)
	if len(allocas) == 0 {
		return false
	}
	dom := ir.ComputeDominance(m, region)
	df := ir.DominanceFrontier(m, region, dom)

	b := ir.NewBuilder(m)
	changed := false
	for _, alloca := range allocas {
		if promoteAlloca(m, b, fid, alloca, dom, df) {
			changed = true
		}
	}
	return changed
}

// eligibleAllocas finds allocas that never escape: not used by anything
// other than Load/Store at operand position 0 (address), never passed as a
// Call argument, address never taken by any other op (spec.md §4.5 a-c).
func eligibleAllocas(m *ir.Module, fid ir.FuncID) []ir.OpID {
	var out []ir.OpID
	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpAlloca }) {
		if isStackOnly(m, opID) {
			out = append(out, opID)
		}
	}
	return out
}

func isStackOnly(m *ir.Module, alloca ir.OpID) bool {
	for _, u := range m.Op(alloca).Uses() {
		user := m.Op(u.User)
		switch user.Opcode {
		case ir.OpLoad:
			if u.Index != 0 {
				return false
			}
		case ir.OpStore:
			if u.Index != 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func promoteAlloca(m *ir.Module, b *ir.Builder, fid ir.FuncID, alloca ir.OpID, dom *ir.DomTree, df map[ir.BlockID][]ir.BlockID) bool {
	defBlocks := map[ir.BlockID]bool{}
	loads := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
		return op.Opcode == ir.OpLoad && op.Operands[0] == alloca
	})
	stores := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
		return op.Opcode == ir.OpStore && op.Operands[0] == alloca
	})
	for _, s := range stores {
		defBlocks[m.Op(s).Block] = true
	}
	if len(defBlocks) == 0 && len(loads) == 0 {
		return false
	}

	phiBlocks := iteratedDominanceFrontier(defBlocks, df)

	valueType := resultTypeOfAlloca(m, alloca)
	phis := map[ir.BlockID]ir.OpID{}
	for blk := range phiBlocks {
		b.SetCursor(ir.AtBlockStart(blk))
		phi := b.Create(ir.OpPhi, valueType, nil, ir.AttrMap{})
		phis[blk] = phi
	}

	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	visited := map[ir.BlockID]bool{}
	renameFrom(m, entry, alloca, ir.InvalidOp, phis, visited)

	// Erase now-dead loads/stores/alloca if nothing still uses them.
	for _, l := range loads {
		if !m.Op(l).HasUses() {
			m.Erase(l)
		}
	}
	for _, s := range stores {
		m.Erase(s)
	}
	if !m.Op(alloca).HasUses() {
		m.Erase(alloca)
	}
	return true
}

// iteratedDominanceFrontier repeats DF-closure until no new blocks are
// added (Cytron et al., spec.md §4.5).
func iteratedDominanceFrontier(seeds map[ir.BlockID]bool, df map[ir.BlockID][]ir.BlockID) map[ir.BlockID]bool {
	out := map[ir.BlockID]bool{}
	worklist := make([]ir.BlockID, 0, len(seeds))
	for b := range seeds {
		worklist = append(worklist, b)
	}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, f := range df[b] {
			if !out[f] {
				out[f] = true
				worklist = append(worklist, f)
			}
		}
	}
	return out
}

func resultTypeOfAlloca(m *ir.Module, alloca ir.OpID) ir.Type {
	for _, u := range m.Op(alloca).Uses() {
		user := m.Op(u.User)
		if user.Opcode == ir.OpStore && u.Index == 0 {
			return m.Op(user.Operands[1]).Type
		}
	}
	for _, u := range m.Op(alloca).Uses() {
		user := m.Op(u.User)
		if user.Opcode == ir.OpLoad {
			return user.Type
		}
	}
	return ir.TypeI32
}

// renameFrom walks the CFG (not just the dominator tree, so every edge gets
// a phi operand filled exactly once) depth-first from blk, carrying
// incoming as the dominating definition reaching blk's entry. At each block
// it substitutes Loads with the current definition, updates the current
// definition at each Store, and — once the block's own current value is
// final — pushes that value into any Phi at each CFG successor for the
// edge (blk, succ) (spec.md §4.5's renaming pass).
func renameFrom(m *ir.Module, blk ir.BlockID, alloca ir.OpID, incoming ir.OpID, phis map[ir.BlockID]ir.OpID, visited map[ir.BlockID]bool) {
	if visited[blk] {
		return
	}
	visited[blk] = true

	current := incoming
	if phi, ok := phis[blk]; ok {
		current = phi
	}
	for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
		op := m.Op(opID)
		switch {
		case op.Opcode == ir.OpLoad && op.Operands[0] == alloca:
			if current.Valid() {
				m.ReplaceAllUsesWith(opID, current)
			}
		case op.Opcode == ir.OpStore && op.Operands[0] == alloca:
			current = op.Operands[1]
		}
	}

	for _, succ := range m.Block(blk).Succs {
		if phi, ok := phis[succ]; ok {
			if ir.PhiOperandFor(m, phi, blk) == ir.InvalidOp {
				ir.AddPhiOperand(m, phi, current, blk)
			}
		}
	}
	for _, succ := range m.Block(blk).Succs {
		renameFrom(m, succ, alloca, current, phis, visited)
	}
}
