package loopopt

import "rvopt/internal/ir"

// ConstLoopUnroll fully unrolls loops whose trip count SCEV can prove at
// compile time and which fit under Threshold iterations (spec.md §4.9).
// It only attempts the minimal three-block shape internal/flatten's For
// lowering produces and Mem2Reg promotes in place (header carrying exactly
// one induction Phi plus its loop-invariant bound test, a single
// straight-line body block, a latch computing nothing but the next
// induction value) — a loop whose header holds more than one Phi, or whose
// body spans several blocks because of nested control flow, is left for
// other loop passes rather than partially or incorrectly unrolled.
type ConstLoopUnroll struct {
	Threshold int
}

const defaultUnrollThreshold = 16

func (ConstLoopUnroll) Name() string { return "const-loop-unroll" }
func (ConstLoopUnroll) Description() string {
	return "fully unrolls small constant-trip-count loops"
}

func (c ConstLoopUnroll) Apply(m *ir.Module) bool {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = defaultUnrollThreshold
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
			if unrollIfSmall(m, region, loop, threshold) {
				changed = true
				ir.RecomputePredsSuccs(m, region)
				dom = ir.ComputeDominance(m, region)
			}
		}
	}
	return changed
}

func unrollIfSmall(m *ir.Module, region ir.RegionID, loop *Loop, threshold int) bool {
	if len(loop.Blocks) != 3 || len(loop.Latches) != 1 || !loop.Preheader.Valid() {
		return false
	}
	header, latch := loop.Header, loop.Latches[0]
	body := soleBodyBlock(loop, header, latch)
	if !body.Valid() {
		return false
	}

	phis := headerPhis(m, header)
	if len(phis) != 1 {
		return false
	}
	ivs := DetectInductions(m, loop)
	if len(ivs) != 1 || ivs[0].Phi != phis[0] {
		return false
	}
	iv := ivs[0]
	if !latchIsInductionOnly(m, latch, iv) {
		return false
	}

	count, ok := TripCount(m, loop, iv)
	if !ok || count > int64(threshold) {
		return false
	}

	exits := loop.Exits(m)
	if len(exits) != 1 {
		return false
	}
	exit := exits[0]

	if count == 0 {
		return unrollZero(m, loop, header, exit, iv)
	}

	bodyOps := append([]ir.OpID(nil), m.Block(body).Ops...)
	blocks := make([]ir.BlockID, count)
	b := ir.NewBuilder(m)
	for i := range blocks {
		blocks[i] = b.NewBlockIn(region, "")
	}

	value := iv.Initial
	for i := int64(0); i < count; i++ {
		dst := blocks[i]
		cloneMap := map[ir.OpID]ir.OpID{iv.Phi: value}
		b.SetCursor(ir.AtBlockEnd(dst))
		for _, opID := range bodyOps {
			op := m.Op(opID)
			if op.IsTerminator() {
				continue
			}
			operands := make([]ir.OpID, len(op.Operands))
			for j, o := range op.Operands {
				if mv, ok := cloneMap[o]; ok {
					operands[j] = mv
				} else {
					operands[j] = o
				}
			}
			clone := b.Create(op.Opcode, op.Type, operands, op.Attrs.Clone())
			cloneMap[opID] = clone
		}
		nextValue := nextInductionValue(m, b, value, iv.Step)
		next := exit
		if i+1 < count {
			next = blocks[i+1]
		}
		b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: next}})
		value = nextValue
	}

	retarget(m, loop.Preheader, header, blocks[0])
	redirectExitPhis(m, exit, header, blocks[count-1], value)
	eraseLoopBlocks(m, loop)
	return true
}

func nextInductionValue(m *ir.Module, b *ir.Builder, cur ir.OpID, step int64) ir.OpID {
	stepConst := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: step}})
	return b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{cur, stepConst}, ir.AttrMap{})
}

func soleBodyBlock(loop *Loop, header, latch ir.BlockID) ir.BlockID {
	for b := range loop.Blocks {
		if b != header && b != latch {
			return b
		}
	}
	return ir.InvalidBlock
}

func headerPhis(m *ir.Module, header ir.BlockID) []ir.OpID {
	var out []ir.OpID
	for _, opID := range m.Block(header).Ops {
		if m.Op(opID).Opcode == ir.OpPhi {
			out = append(out, opID)
		}
	}
	return out
}

// latchIsInductionOnly requires the latch to contain nothing but the
// induction's step computation and its closing Goto.
func latchIsInductionOnly(m *ir.Module, latch ir.BlockID, iv Induction) bool {
	stepOp := ir.PhiOperandFor(m, iv.Phi, latch)
	step := m.Op(stepOp)
	for _, opID := range m.Block(latch).Ops {
		if opID == stepOp {
			continue
		}
		o := m.Op(opID)
		if o.Opcode == ir.OpGoto {
			continue
		}
		// The step's constant operand, used by nothing else.
		if o.Opcode == ir.OpIntConst && len(o.Uses()) == 1 && len(step.Operands) == 2 &&
			(step.Operands[0] == opID || step.Operands[1] == opID) {
			continue
		}
		return false
	}
	return true
}

// unrollZero handles the proven-zero-trip case: the loop body never runs,
// so every exit Phi reading the header's def must read iv.Initial instead,
// and control goes straight from the pre-header to exit.
func unrollZero(m *ir.Module, loop *Loop, header, exit ir.BlockID, iv Induction) bool {
	redirectExitPhis(m, exit, header, loop.Preheader, iv.Initial)
	retarget(m, loop.Preheader, header, exit)
	eraseLoopBlocks(m, loop)
	return true
}

// redirectExitPhis rewrites every Phi in exit whose PhiFrom names header to
// instead read value directly from newPred, since after unrolling header no
// longer exists as a predecessor of exit.
func redirectExitPhis(m *ir.Module, exit, header, newPred ir.BlockID, value ir.OpID) {
	for _, opID := range append([]ir.OpID(nil), m.Block(exit).Ops...) {
		op := m.Op(opID)
		if op.Opcode != ir.OpPhi {
			continue
		}
		for i, from := range op.PhiFrom {
			if from == header {
				m.SetOperand(opID, i, value)
				op.PhiFrom[i] = newPred
			}
		}
	}
}

// eraseLoopBlocks clears every operand of every op across loop's blocks
// (dropping all internal use edges, the only ones left once the caller has
// already redirected external references) and then erases the ops and the
// blocks themselves.
func eraseLoopBlocks(m *ir.Module, loop *Loop) {
	for bid := range loop.Blocks {
		for _, opID := range append([]ir.OpID(nil), m.Block(bid).Ops...) {
			op := m.Op(opID)
			for i := range op.Operands {
				m.SetOperand(opID, i, ir.InvalidOp)
			}
		}
	}
	for bid := range loop.Blocks {
		for _, opID := range append([]ir.OpID(nil), m.Block(bid).Ops...) {
			m.Erase(opID)
		}
		m.ForceEraseBlock(bid)
	}
}
