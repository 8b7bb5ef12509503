package ssaopt

import (
	"github.com/segmentio/ksuid"

	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// LateInline runs after Mem2Reg: it must clone Phi operands and rewrite
// FromAttrs to cloned block identities, and merge multiple return sites
// with a Phi rather than a reload (spec.md §4.8's "Late" branch). Grounded
// directly on original_source/src/opt/LateInline.cpp's run(): block split,
// clone, phi-FromAttr retargeting, GetArg replacement and the
// single-return-shortcut-vs-multi-return-phi split all mirror the source.
type LateInline struct {
	Threshold int
}

func (li LateInline) Name() string        { return "late-inline" }
func (li LateInline) Description() string { return "inlines small non-recursive callees after Mem2Reg" }

func (li *LateInline) Apply(m *ir.Module) bool {
	if li.Threshold == 0 {
		li.Threshold = 200
	}
	cg := analysis.ComputeCallGraph(m)
	cg.Apply(m)
	changed := false

	again := true
	for again {
		again = false
		for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
			calls := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall })
			for _, callID := range calls {
				if li.tryInline(m, callID) {
					changed, again = true, true
					break
				}
			}
			if again {
				break
			}
		}
	}

	for _, fid := range m.Functions {
		hoistAllocasToFront(m, fid, true)
	}
	return changed
}

func (li *LateInline) tryInline(m *ir.Module, callID ir.OpID) bool {
	call := m.Op(callID)
	name, _ := call.Attrs.Name(ir.AttrName)
	callee := m.FuncByName(name)
	if callee == nil {
		return false
	}
	if opCountOf(m, callee.ID()) >= li.Threshold {
		return false
	}
	if isRecursive(callee) {
		return false
	}
	lateDoInline(m, callID, callee.ID())
	return true
}

func lateDoInline(m *ir.Module, callID ir.OpID, calleeFid ir.FuncID) {
	call := m.Op(callID)
	bb := call.Block
	callerRegion := m.Block(bb).Region
	ir.RecomputePredsSuccs(m, callerRegion)
	origSuccs := append([]ir.BlockID(nil), m.Block(bb).Succs...)
	b := ir.NewBuilder(m)

	tail := splitBlockAfter(m, b, bb, callID)

	fnRegion := m.Func(calleeFid).Region
	srcBlocks := m.Region(fnRegion).Blocks
	body := make([]ir.BlockID, len(srcBlocks))
	for i := range srcBlocks {
		body[i] = b.NewBlockIn(callerRegion, "inl."+ksuid.New().String()[:8])
	}
	relocateBefore(m, callerRegion, body, tail)

	cloneMap := map[ir.OpID]ir.OpID{}
	retarget := map[ir.BlockID]ir.BlockID{}
	for i, srcBlk := range srcBlocks {
		retarget[srcBlk] = body[i]
	}
	for i, srcBlk := range srcBlocks {
		blk := m.Block(srcBlk)
		b.SetCursor(ir.AtBlockStart(body[i]))
		for _, opID := range blk.Ops {
			cloneMap[opID] = b.Copy(opID)
		}
	}
	for _, srcBlk := range srcBlocks {
		for _, opID := range m.Block(srcBlk).Ops {
			clone := cloneMap[opID]
			src := m.Op(opID)
			cloneOp := m.Op(clone)
			for _, operand := range src.Operands {
				m.AppendOperand(clone, cloneMap[operand])
			}
			if src.Opcode == ir.OpPhi {
				cloneOp.PhiFrom = make([]ir.BlockID, len(src.PhiFrom))
				for i, from := range src.PhiFrom {
					cloneOp.PhiFrom[i] = retarget[from]
				}
			}
		}
	}
	retargetBlockAttrs(m, cloneMap, retarget)

	b.SetCursor(ir.AtBlockEnd(bb))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: body[0]}})

	type retInfo struct {
		val   ir.OpID
		block ir.BlockID
	}
	var returns []retInfo

	for _, clone := range cloneMap {
		op := m.Op(clone)
		if op.Opcode == ir.OpGetArg {
			idx, _ := op.Attrs.Int(ir.AttrInt)
			actual := call.Operands[idx]
			m.ReplaceAllUsesWith(clone, actual)
			eraseOperandsOf(m, clone)
			m.Erase(clone)
		}
	}
	for _, clone := range cloneMap {
		op := m.Op(clone)
		if op.Opcode != ir.OpReturn {
			continue
		}
		if len(op.Operands) == 0 {
			b.Replace(clone, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: tail}})
			continue
		}
		retVal := op.Operands[0]
		retBlock := op.Block
		returns = append(returns, retInfo{val: retVal, block: retBlock})
		b.Replace(clone, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: tail}})
	}

	b.SetCursor(ir.AtBlockStart(tail))
	if len(returns) == 1 {
		m.ReplaceAllUsesWith(callID, returns[0].val)
	} else if len(returns) > 1 {
		phi := b.Create(ir.OpPhi, call.Type, nil, ir.AttrMap{})
		for _, r := range returns {
			ir.AddPhiOperand(m, phi, r.val, r.block)
		}
		m.ReplaceAllUsesWith(callID, phi)
	}
	eraseOperandsOf(m, callID)
	m.Erase(callID)

	// Any phi in bb's (pre-split) successors that names bb as the
	// incoming block now sees that edge arrive from tail instead.
	for _, succ := range origSuccs {
		for _, opID := range m.Block(succ).Ops {
			op := m.Op(opID)
			if op.Opcode != ir.OpPhi {
				continue
			}
			for i, from := range op.PhiFrom {
				if from == bb {
					op.PhiFrom[i] = tail
				}
			}
		}
	}
	ir.RecomputePredsSuccs(m, callerRegion)
}
