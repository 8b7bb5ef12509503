package loopopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// RemoveEmptyLoop deletes a loop's entire control-flow skeleton once every
// op inside it is side-effect-free and nothing outside the loop observes
// any value it computes (spec.md §4.9). Earlier DCE passes only ever erase
// individual dead ops; they never collapse the surrounding
// header/body/latch blocks themselves, so a loop whose body DCE has
// already hollowed out can still sit in the CFG forever doing nothing but
// branch back and forth. This pass is what actually removes that shell.
type RemoveEmptyLoop struct {
	Purity analysis.Purity
}

func (RemoveEmptyLoop) Name() string        { return "remove-empty-loop" }
func (RemoveEmptyLoop) Description() string { return "deletes loops with no side effects and no live-out values" }

func (r *RemoveEmptyLoop) Apply(m *ir.Module) bool {
	if r.Purity == nil {
		r.Purity = analysis.ComputePurity(m)
	}
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		dom := ir.ComputeDominance(m, region)
		for _, loop := range BuildLoopForest(m, region, dom) {
			if ensurePreheader(m, region, loop) {
				ir.RecomputePredsSuccs(m, region)
				dom = ir.ComputeDominance(m, region)
			}
			if removeIfEmpty(m, r.Purity, loop) {
				changed = true
				ir.RecomputePredsSuccs(m, region)
				dom = ir.ComputeDominance(m, region)
			}
		}
	}
	return changed
}

func removeIfEmpty(m *ir.Module, purity analysis.Purity, loop *Loop) bool {
	if !loop.Preheader.Valid() {
		return false
	}
	exits := loop.Exits(m)
	if len(exits) != 1 {
		return false
	}
	exit := exits[0]
	var loopPred ir.BlockID
	predCount := 0
	for _, p := range m.Block(exit).Preds {
		if loop.Blocks[p] {
			predCount++
			loopPred = p
		}
	}
	if predCount != 1 {
		return false
	}

	for bid := range loop.Blocks {
		for _, opID := range m.Block(bid).Ops {
			op := m.Op(opID)
			switch op.Opcode {
			case ir.OpGoto, ir.OpBranch, ir.OpPhi:
				continue
			default:
				if !analysis.IsOpPure(m, purity, op) {
					return false
				}
			}
		}
	}
	for bid := range loop.Blocks {
		for _, opID := range m.Block(bid).Ops {
			op := m.Op(opID)
			if !op.HasResult() {
				continue
			}
			for _, u := range op.Uses() {
				if !loop.Blocks[m.Op(u.User).Block] {
					return false
				}
			}
		}
	}

	for _, opID := range m.Block(exit).Ops {
		op := m.Op(opID)
		if op.Opcode != ir.OpPhi {
			continue
		}
		for i, from := range op.PhiFrom {
			if from == loopPred {
				op.PhiFrom[i] = loop.Preheader
			}
		}
	}
	retarget(m, loop.Preheader, loop.Header, exit)
	eraseLoopBlocks(m, loop)
	return true
}
