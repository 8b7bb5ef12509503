package ssaopt

import (
	"github.com/segmentio/ksuid"

	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// Inline is the pre-Mem2Reg inliner of spec.md §4.8: small, non-recursive
// callees are spliced into the caller's block at the call site, a fresh
// stack slot carries the return value since no Phis exist yet. Grounded
// directly on original_source/src/opt/Inline.cpp's doInline/run: the
// block-split, callee-clone, operand/target retargeting and "move allocas
// to front" steps mirror the source one-for-one, adapted from its
// cloneMap/retargetMap local maps to the arena's OpID/BlockID keys.
type Inline struct {
	Threshold int
}

func (in Inline) Name() string        { return "inline" }
func (in Inline) Description() string { return "inlines small non-recursive callees before Mem2Reg" }

func (in *Inline) Apply(m *ir.Module) bool {
	if in.Threshold == 0 {
		in.Threshold = 200
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
				if in.tryInline(m, callID) {
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
		hoistAllocasToFront(m, fid, false)
	}
	return changed
}

func (in *Inline) tryInline(m *ir.Module, callID ir.OpID) bool {
	call := m.Op(callID)
	name, _ := call.Attrs.Name(ir.AttrName)
	callee := m.FuncByName(name)
	if callee == nil {
		return false // external call, never inlined
	}
	if opCountOf(m, callee.ID()) >= in.Threshold {
		return false
	}
	if isRecursive(callee) {
		return false
	}
	earlyDoInline(m, callID, callee.ID())
	return true
}

func isRecursive(fn *ir.Function) bool {
	for _, c := range fn.Callers() {
		if c == fn.ID() {
			return true
		}
	}
	return false
}

func opCountOf(m *ir.Module, fid ir.FuncID) int {
	n := 0
	for _, b := range ir.AllBlocksInFunc(m, fid) {
		n += len(m.Block(b).Ops)
	}
	return n
}

// earlyDoInline implements the pre-Mem2Reg mechanics of spec.md §4.8 step
// 4's "Early" branch: Return stores to a freshly allocated slot reloaded in
// the tail block.
func earlyDoInline(m *ir.Module, callID ir.OpID, calleeFid ir.FuncID) {
	call := m.Op(callID)
	bb := call.Block
	callerRegion := m.Block(bb).Region
	b := ir.NewBuilder(m)

	tail := splitBlockAfter(m, b, bb, callID)

	fnRegion := m.Func(calleeFid).Region
	srcBlocks := m.Region(fnRegion).Blocks
	// Cloned blocks get a ksuid-suffixed label rather than the module's
	// plain sequential counter: two call sites inlining the same callee in
	// the same function would otherwise produce colliding bb labels once
	// printed, since the clone map doesn't reset the label sequence across
	// distinct inlining events the way a single function body would.
	body := make([]ir.BlockID, len(srcBlocks))
	for i := range srcBlocks {
		body[i] = b.NewBlockIn(callerRegion, "inl."+ksuid.New().String()[:8])
	}
	// Re-splice freshly allocated body blocks between bb and tail so
	// program order stays readable: region.Blocks currently ends with
	// [..., bb, tail]; we want [..., bb, body..., tail].
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
			for idx, operand := range src.Operands {
				m.AppendOperand(clone, cloneMap[operand])
				_ = idx
			}
		}
	}
	retargetBlockAttrs(m, cloneMap, retarget)

	b.SetCursor(ir.AtBlockEnd(bb))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: body[0]}})

	retType := m.Op(callID).Type
	var addr ir.OpID
	if retType != ir.TypeVoid {
		b.SetCursor(ir.AtBlockEnd(bb))
		addr = b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(retType)}})
	}

	for _, clone := range cloneMap {
		op := m.Op(clone)
		switch op.Opcode {
		case ir.OpGetArg:
			idx, _ := op.Attrs.Int(ir.AttrInt)
			actual := call.Operands[idx]
			m.ReplaceAllUsesWith(clone, actual)
			eraseOperandsOf(m, clone)
			m.Erase(clone)
		case ir.OpReturn:
			if len(op.Operands) == 0 {
				b.Replace(clone, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: tail}})
				continue
			}
			retVal := op.Operands[0]
			retBlock := op.Block
			b.SetCursor(ir.Before(clone, retBlock))
			b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, retVal}, ir.AttrMap{ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(retType)}})
			b.Replace(clone, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: tail}})
		}
	}

	if retType != ir.TypeVoid {
		b.SetCursor(ir.AtBlockStart(tail))
		load := b.Create(ir.OpLoad, retType, []ir.OpID{addr}, ir.AttrMap{ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(retType)}})
		m.ReplaceAllUsesWith(callID, load)
	}
	eraseOperandsOf(m, callID)
	m.Erase(callID)
	ir.RecomputePredsSuccs(m, callerRegion)
}

func typeSize(t ir.Type) int64 {
	switch t {
	case ir.TypeI64:
		return 8
	default:
		return 4
	}
}

// splitBlockAfter splits bb into [pre | tail] right after splitPoint
// (inclusive of splitPoint staying in pre), mirroring
// bb->splitOpsAfter(end, call) in the source.
func splitBlockAfter(m *ir.Module, b *ir.Builder, bb ir.BlockID, splitPoint ir.OpID) ir.BlockID {
	blk := m.Block(bb)
	idx := -1
	for i, id := range blk.Ops {
		if id == splitPoint {
			idx = i
			break
		}
	}
	tailOps := append([]ir.OpID(nil), blk.Ops[idx+1:]...)
	blk.Ops = blk.Ops[:idx+1]

	tail := b.NewBlockIn(blk.Region, "")
	for _, opID := range tailOps {
		b.MoveToCursor(opID, ir.AtBlockEnd(tail))
	}
	relocateBefore(m, blk.Region, []ir.BlockID{tail}, ir.InvalidBlock)
	return tail
}

// relocateBefore moves blocks (already appended at the region's tail by
// NewBlockIn) to sit immediately before anchor in region.Blocks, or to the
// end if anchor is invalid. Pure bookkeeping: block identity, ops and
// edges are untouched.
func relocateBefore(m *ir.Module, region ir.RegionID, blocks []ir.BlockID, anchor ir.BlockID) {
	r := m.Region(region)
	set := map[ir.BlockID]bool{}
	for _, b := range blocks {
		set[b] = true
	}
	rest := make([]ir.BlockID, 0, len(r.Blocks))
	for _, b := range r.Blocks {
		if !set[b] {
			rest = append(rest, b)
		}
	}
	if !anchor.Valid() {
		r.Blocks = append(rest, blocks...)
		return
	}
	out := make([]ir.BlockID, 0, len(rest)+len(blocks))
	for _, b := range rest {
		if b == anchor {
			out = append(out, blocks...)
		}
		out = append(out, b)
	}
	r.Blocks = out
}

func retargetBlockAttrs(m *ir.Module, cloneMap map[ir.OpID]ir.OpID, retarget map[ir.BlockID]ir.BlockID) {
	for _, clone := range cloneMap {
		op := m.Op(clone)
		if t, ok := op.Attrs[ir.AttrTarget]; ok {
			if nb, ok := retarget[t.Block]; ok {
				op.Attrs[ir.AttrTarget] = ir.Attr{Kind: ir.AttrTarget, Block: nb}
			}
		}
		if e, ok := op.Attrs[ir.AttrElse]; ok {
			if nb, ok := retarget[e.Block]; ok {
				op.Attrs[ir.AttrElse] = ir.Attr{Kind: ir.AttrElse, Block: nb}
			}
		}
		if op.Opcode == ir.OpPhi {
			for i, from := range op.PhiFrom {
				if nb, ok := retarget[from]; ok {
					op.PhiFrom[i] = nb
				}
			}
		}
	}
}

// hoistAllocasToFront moves every alloca in fn to the start of the entry
// block, creating a dedicated prelude block first if the entry doesn't
// already start with one (spec.md §4.8 step 5 / original_source Inline.cpp's
// closing loop). The prepend argument is ignored: Inline and LateInline
// both put the allocas at the very front of the entry block.
func hoistAllocasToFront(m *ir.Module, fid ir.FuncID, prepend bool) {
	region := m.Func(fid).Region
	r := m.Region(region)
	if len(r.Blocks) == 0 {
		return
	}
	entry := r.Entry()
	allocas := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpAlloca })
	if len(allocas) == 0 {
		return
	}
	b := ir.NewBuilder(m)
	entryBlk := m.Block(entry)
	if len(entryBlk.Ops) == 0 || m.Op(entryBlk.Ops[0]).Opcode != ir.OpAlloca {
		newEntry := b.NewBlockIn(region, "")
		relocateBefore(m, region, []ir.BlockID{newEntry}, entry)
		b.SetCursor(ir.AtBlockEnd(newEntry))
		b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: entry}})
		entry = newEntry
	}
	for _, alloca := range allocas {
		_ = prepend // both Inline and LateInline prepend in this port: a single
		// canonical alloca prelude at the very front keeps GCM/InstSchedule's
		// "allocas are pinned to entry" assumption uniform regardless of
		// which inliner introduced them.
		b.MoveToCursor(alloca, ir.AtBlockStart(entry))
	}
	ir.RecomputePredsSuccs(m, region)
}
