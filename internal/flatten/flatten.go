// Package flatten implements CFG flattening (spec.md §4.4): it lowers the
// structured control-flow ops (If/While/For/Break/Continue/Proceed) that
// internal/structured's passes operate on into the Goto/Branch-terminated
// flat basic blocks every later pass (internal/ssaopt, internal/loopopt)
// expects, per spec.md §4.4's contract that no structured ops remain and
// the flat-CFG invariants of §3 hold.
package flatten

import "rvopt/internal/ir"

// Flatten is the pass-manager entry point, gated GateStructuredOnly at
// entry and expected to flip Manager.MarkFlattened() once it returns.
type Flatten struct{}

func (Flatten) Name() string        { return "flatten" }
func (Flatten) Description() string { return "lowers structured control flow to Goto/Branch basic blocks" }

func (Flatten) Apply(m *ir.Module) bool {
	changed := false
	b := ir.NewBuilder(m)
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		region := fn.Region
		entry := m.Region(region).Entry()
		if !entry.Valid() {
			continue
		}
		cur := entry
		flattenInto(m, b, &cur, region, ir.InvalidBlock, nil, region)
		ir.RecomputePredsSuccs(m, region)
		changed = true
	}
	return changed
}

// loopCtx records the exit (Break target) and latch (Continue target) of
// the loop a Break/Continue is nested inside.
type loopCtx struct {
	exit  ir.BlockID
	latch ir.BlockID
}

// flattenInto moves the ops currently sitting in source's single block
// into (and, for nested If/While/For, around) *cur, which starts as the
// caller-supplied block and is advanced to whatever block should receive
// whatever comes after this region in program order. topRegion is always
// the owning function's single top-level region: every block flattening
// creates is appended there, since structured regions cease to exist once
// flattening is done.
func flattenInto(m *ir.Module, b *ir.Builder, cur *ir.BlockID, source ir.RegionID, cont ir.BlockID, loops []loopCtx, topRegion ir.RegionID) {
	ops := regionOps(m, source)
	for _, opID := range ops {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpIf:
			flattenIf(m, b, cur, op, opID, loops, topRegion)
		case ir.OpWhile:
			flattenWhile(m, b, cur, op, opID, loops, topRegion)
		case ir.OpFor:
			flattenFor(m, b, cur, op, opID, loops, topRegion)
		case ir.OpBreak:
			target := loops[len(loops)-1].exit
			terminateWithGoto(m, b, *cur, target)
			m.Erase(opID)
			return
		case ir.OpContinue:
			target := loops[len(loops)-1].latch
			terminateWithGoto(m, b, *cur, target)
			m.Erase(opID)
			return
		case ir.OpProceed:
			terminateWithGoto(m, b, *cur, cont)
			m.Erase(opID)
			return
		case ir.OpReturn:
			b.MoveToCursor(opID, ir.AtBlockEnd(*cur))
			return
		default:
			b.MoveToCursor(opID, ir.AtBlockEnd(*cur))
		}
	}
	if cont.Valid() {
		terminateWithGoto(m, b, *cur, cont)
	}
}

func regionOps(m *ir.Module, region ir.RegionID) []ir.OpID {
	blk := m.Region(region).Entry()
	if !blk.Valid() {
		return nil
	}
	return append([]ir.OpID(nil), m.Block(blk).Ops...)
}

func terminateWithGoto(m *ir.Module, b *ir.Builder, from, to ir.BlockID) {
	b.SetCursor(ir.AtBlockEnd(from))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: to}})
}

func flattenIf(m *ir.Module, b *ir.Builder, cur *ir.BlockID, op *ir.Op, opID ir.OpID, loops []loopCtx, topRegion ir.RegionID) {
	cond := op.Operands[0]
	thenRegion := op.Regions[0]
	var elseRegion ir.RegionID
	if len(op.Regions) > 1 {
		elseRegion = op.Regions[1]
	}

	thenBlock := b.NewBlockIn(topRegion, "")
	joinBlock := b.NewBlockIn(topRegion, "")
	elseTarget := joinBlock
	var elseBlock ir.BlockID
	if elseRegion.Valid() {
		elseBlock = b.NewBlockIn(topRegion, "")
		elseTarget = elseBlock
	}

	b.SetCursor(ir.AtBlockEnd(*cur))
	b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: thenBlock},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: elseTarget},
	})

	thenCur := thenBlock
	flattenInto(m, b, &thenCur, thenRegion, joinBlock, loops, topRegion)
	if elseRegion.Valid() {
		elseCur := elseBlock
		flattenInto(m, b, &elseCur, elseRegion, joinBlock, loops, topRegion)
	}

	eraseOperandsOf(m, opID)
	m.Op(opID).Regions = nil
	m.Erase(opID)
	*cur = joinBlock
}

func flattenWhile(m *ir.Module, b *ir.Builder, cur *ir.BlockID, op *ir.Op, opID ir.OpID, loops []loopCtx, topRegion ir.RegionID) {
	condRegion, bodyRegion := op.Regions[0], op.Regions[1]
	header := b.NewBlockIn(topRegion, "")
	body := b.NewBlockIn(topRegion, "")
	exit := b.NewBlockIn(topRegion, "")

	terminateWithGoto(m, b, *cur, header)

	condValue := moveStraightLine(m, b, regionOps(m, condRegion), header)
	b.SetCursor(ir.AtBlockEnd(header))
	branch := b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{condValue}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: body},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: exit},
	})
	carryParallelizable(m, op, branch)

	nested := append(loops, loopCtx{exit: exit, latch: header})
	bodyCur := body
	flattenInto(m, b, &bodyCur, bodyRegion, header, nested, topRegion)

	eraseOperandsOf(m, opID)
	m.Op(opID).Regions = nil
	m.Erase(opID)
	*cur = exit
}

func flattenFor(m *ir.Module, b *ir.Builder, cur *ir.BlockID, op *ir.Op, opID ir.OpID, loops []loopCtx, topRegion ir.RegionID) {
	alloca, bound := op.Operands[0], op.Operands[1]
	step, _ := op.Attrs.Int(ir.AttrInt)
	bodyRegion := op.Regions[0]

	header := b.NewBlockIn(topRegion, "")
	body := b.NewBlockIn(topRegion, "")
	latch := b.NewBlockIn(topRegion, "")
	exit := b.NewBlockIn(topRegion, "")

	terminateWithGoto(m, b, *cur, header)

	b.SetCursor(ir.AtBlockEnd(header))
	loadInd := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{alloca}, ir.AttrMap{})
	cond := b.Create(ir.OpLtI, ir.TypeI32, []ir.OpID{loadInd, bound}, ir.AttrMap{})
	branch := b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: body},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: exit},
	})
	carryParallelizable(m, op, branch)

	nested := append(loops, loopCtx{exit: exit, latch: latch})
	bodyCur := body
	flattenInto(m, b, &bodyCur, bodyRegion, latch, nested, topRegion)

	b.SetCursor(ir.AtBlockEnd(latch))
	loadInd2 := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{alloca}, ir.AttrMap{})
	stepConst := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: step}})
	add := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{loadInd2, stepConst}, ir.AttrMap{})
	b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{alloca, add}, ir.AttrMap{})
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: header}})

	eraseOperandsOf(m, opID)
	m.Op(opID).Regions = nil
	m.Erase(opID)
	*cur = exit
}

// moveStraightLine relocates a side-effect-only op sequence (spec.md §4.3's
// while-condition region, which the structured convention documents as
// carrying no Break/Continue/Return of its own) into dst and returns the
// last op's id, the condition value a While's header branches on.
func moveStraightLine(m *ir.Module, b *ir.Builder, ops []ir.OpID, dst ir.BlockID) ir.OpID {
	var last ir.OpID
	for _, opID := range ops {
		b.MoveToCursor(opID, ir.AtBlockEnd(dst))
		last = opID
	}
	return last
}

// carryParallelizable copies the AttrParallelizable hint internal/structured's
// Parallelizable pass left on the original OpWhile/OpFor onto the flat
// CFG's header Branch, the only op surviving flattening that internal/loopopt's
// Vectorize can still key off once the structured op itself is erased.
func carryParallelizable(m *ir.Module, structuredOp *ir.Op, branch ir.OpID) {
	if structuredOp.Attrs.Bool(ir.AttrParallelizable) {
		m.Op(branch).Attrs[ir.AttrParallelizable] = ir.Attr{Kind: ir.AttrParallelizable, Bool: true}
	}
}

func eraseOperandsOf(m *ir.Module, opID ir.OpID) {
	op := m.Op(opID)
	for i := range op.Operands {
		m.SetOperand(opID, i, ir.InvalidOp)
	}
}
