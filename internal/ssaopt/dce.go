package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// DCE erases, per function, blocks unreachable from the entry (found by a
// CFG walk) and then pure Ops with no uses to a fixpoint (found through the
// arena's use lists); finally it erases functions other than main that have
// no callers (spec.md §4.7).
type DCE struct {
	Purity analysis.Purity
}

func (d DCE) Name() string        { return "dce" }
func (d DCE) Description() string { return "erases unused pure ops, unreachable blocks, dead functions" }

func (d *DCE) Apply(m *ir.Module) bool {
	if d.Purity == nil {
		d.Purity = analysis.ComputePurity(m)
	}
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if eraseDeadBlocks(m, fid) {
			changed = true
		}
		if eraseDeadOps(m, fid, d.Purity) {
			changed = true
		}
	}
	if eraseDeadFunctions(m) {
		changed = true
	}
	return changed
}

func eraseDeadBlocks(m *ir.Module, fid ir.FuncID) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	r := m.Region(region)
	entry := r.Entry()
	if !entry.Valid() {
		return false
	}
	reachable := map[ir.BlockID]bool{}
	var walk func(ir.BlockID)
	walk = func(b ir.BlockID) {
		if reachable[b] {
			return
		}
		reachable[b] = true
		for _, s := range m.Block(b).Succs {
			walk(s)
		}
	}
	walk(entry)

	changed := false
	for _, b := range append([]ir.BlockID(nil), r.Blocks...) {
		if reachable[b] {
			continue
		}
		blk := m.Block(b)
		for _, opID := range append([]ir.OpID(nil), blk.Ops...) {
			op := m.Op(opID)
			for i := len(op.Operands) - 1; i >= 0; i-- {
				m.SetOperand(opID, i, ir.InvalidOp)
			}
			m.Erase(opID)
		}
		m.ForceEraseBlock(b)
		changed = true
	}
	return changed
}

func eraseDeadOps(m *ir.Module, fid ir.FuncID, purity analysis.Purity) bool {
	changed := false
	for {
		roundChanged := false
		for _, opID := range ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true }) {
			op := m.Op(opID)
			if op.Opcode == ir.OpInvalid {
				continue
			}
			if op.HasUses() {
				continue
			}
			if !analysis.IsOpPure(m, purity, op) {
				continue
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
	return changed
}

func eraseOperandsOf(m *ir.Module, opID ir.OpID) {
	op := m.Op(opID)
	for i := range op.Operands {
		m.SetOperand(opID, i, ir.InvalidOp)
	}
}

// eraseDeadFunctions removes functions with no callers other than `main`,
// which is always kept live (spec.md §4.7).
func eraseDeadFunctions(m *ir.Module) bool {
	cg := analysis.ComputeCallGraph(m)
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		fn := m.Func(fid)
		if fn.Name == "main" {
			continue
		}
		if len(cg[fid]) > 0 {
			continue
		}
		removeFunction(m, fid)
		changed = true
	}
	return changed
}

func removeFunction(m *ir.Module, fid ir.FuncID) {
	for i, f := range m.Functions {
		if f == fid {
			m.Functions = append(m.Functions[:i], m.Functions[i+1:]...)
			return
		}
	}
}
