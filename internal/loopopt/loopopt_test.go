package loopopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/ir"
)

// loopIDs names every block/op a buildCanonicalLoop caller needs to make
// assertions against.
type loopIDs struct {
	region                            ir.RegionID
	entry, header, body, latch, exit  ir.BlockID
	phi, initVal, boundVal, stepConst ir.OpID
}

// buildCanonicalLoop builds the minimal post-Mem2Reg counting-loop shape
// internal/flatten's For lowering produces once Mem2Reg promotes the
// induction alloca to a header Phi: entry (doubling as pre-header) falls
// straight into header, header tests phi < bound and branches to body or
// exit, body runs bodyFn (or nothing) then falls to latch, latch computes
// phi+step and branches back to header.
func buildCanonicalLoop(t *testing.T, bound, step int64, bodyFn func(b *ir.Builder, phi ir.OpID)) (*ir.Module, loopIDs) {
	t.Helper()
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", nil, ir.TypeVoid)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	header := b.NewBlockIn(region, "header")
	body := b.NewBlockIn(region, "body")
	latch := b.NewBlockIn(region, "latch")
	exit := b.NewBlockIn(region, "exit")

	b.SetCursor(ir.AtBlockEnd(entry))
	initVal := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: header}})

	b.SetCursor(ir.AtBlockEnd(header))
	phi := b.Create(ir.OpPhi, ir.TypeI32, nil, ir.AttrMap{})
	ir.AddPhiOperand(m, phi, initVal, entry)
	boundVal := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: bound}})
	cond := b.Create(ir.OpLtI, ir.TypeI32, []ir.OpID{phi, boundVal}, ir.AttrMap{})
	b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: body},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: exit},
	})

	b.SetCursor(ir.AtBlockEnd(body))
	if bodyFn != nil {
		bodyFn(b, phi)
	}
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: latch}})

	b.SetCursor(ir.AtBlockEnd(latch))
	stepConst := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: step}})
	next := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{phi, stepConst}, ir.AttrMap{})
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: header}})
	ir.AddPhiOperand(m, phi, next, latch)

	b.SetCursor(ir.AtBlockEnd(exit))
	b.Create(ir.OpReturn, ir.TypeVoid, nil, ir.AttrMap{})

	ir.RecomputePredsSuccs(m, region)
	return m, loopIDs{region, entry, header, body, latch, exit, phi, initVal, boundVal, stepConst}
}

func containsBlock(list []ir.BlockID, target ir.BlockID) bool {
	for _, b := range list {
		if b == target {
			return true
		}
	}
	return false
}

func TestBuildLoopForestFindsTheSingleLoop(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 5, 1, nil)
	dom := ir.ComputeDominance(m, ids.region)
	loops := BuildLoopForest(m, ids.region, dom)
	require.Len(t, loops, 1)

	loop := loops[0]
	assert.Equal(t, ids.header, loop.Header)
	assert.Equal(t, []ir.BlockID{ids.latch}, loop.Latches)
	assert.True(t, loop.Blocks[ids.header])
	assert.True(t, loop.Blocks[ids.body])
	assert.True(t, loop.Blocks[ids.latch])
	assert.False(t, loop.Blocks[ids.entry])
	assert.False(t, loop.Blocks[ids.exit])
}

func TestDetectInductionsAndTripCount(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 5, 1, nil)
	dom := ir.ComputeDominance(m, ids.region)
	loop := BuildLoopForest(m, ids.region, dom)[0]
	loop.Preheader = ids.entry

	ivs := DetectInductions(m, loop)
	require.Len(t, ivs, 1)
	assert.Equal(t, ids.phi, ivs[0].Phi)
	assert.Equal(t, ids.initVal, ivs[0].Initial)
	assert.EqualValues(t, 1, ivs[0].Step)

	count, ok := TripCount(m, loop, ivs[0])
	require.True(t, ok)
	assert.EqualValues(t, 5, count)
}

func TestTripCountRoundsUpForNonDivisibleStep(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 10, 3, nil)
	dom := ir.ComputeDominance(m, ids.region)
	loop := BuildLoopForest(m, ids.region, dom)[0]
	loop.Preheader = ids.entry
	iv := DetectInductions(m, loop)[0]

	count, ok := TripCount(m, loop, iv)
	require.True(t, ok)
	assert.EqualValues(t, 4, count) // 0,3,6,9 satisfy <10; 12 doesn't
}

func TestCanonicalizeLoopReusesAnExistingPreheader(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 5, 1, nil)
	before := len(m.Region(ids.region).Blocks)

	changed := CanonicalizeLoop{}.Apply(m)
	assert.False(t, changed, "a single-succ single-pred entry is already a valid pre-header")
	assert.Len(t, m.Region(ids.region).Blocks, before)
}

func TestCanonicalizeLoopInsertsPreheaderForMultiplePredecessors(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 5, 1, nil)
	b := ir.NewBuilder(m)

	// Give header a second external predecessor by splitting entry into an
	// if that both arms feed into header directly.
	other := b.NewBlockIn(ids.region, "other")
	entryTerm := m.Block(ids.entry).Terminator()
	m.Erase(entryTerm)
	b.SetCursor(ir.AtBlockEnd(ids.entry))
	cond := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: ids.header},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: other},
	})
	b.SetCursor(ir.AtBlockEnd(other))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: ids.header}})
	ir.RecomputePredsSuccs(m, ids.region)

	before := len(m.Region(ids.region).Blocks)
	changed := CanonicalizeLoop{}.Apply(m)
	assert.True(t, changed)
	assert.Len(t, m.Region(ids.region).Blocks, before+1, "a fresh pre-header block must be inserted")
}

func TestLICMHoistsLoopInvariantArithmetic(t *testing.T) {
	var outerVal, invCompute, usePhi ir.OpID
	m, ids := buildCanonicalLoop(t, 5, 1, nil)

	b := ir.NewBuilder(m)
	b.SetCursor(ir.Before(m.Block(ids.entry).Terminator(), ids.entry))
	outerVal = b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 7}})

	b.SetCursor(ir.AtBlockStart(ids.body))
	invCompute = b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{outerVal, outerVal}, ir.AttrMap{})
	usePhi = b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{ids.phi, invCompute}, ir.AttrMap{})
	_ = usePhi

	licm := &LICM{}
	changed := licm.Apply(m)
	require.True(t, changed)
	assert.Equal(t, ids.entry, m.Op(invCompute).Block, "the invariant add should be hoisted into the pre-header")
	assert.Equal(t, ids.body, m.Op(usePhi).Block, "the phi-dependent add must stay in the loop body")
}

func TestConstLoopUnrollFullyUnrollsSmallLoop(t *testing.T) {
	var dummy ir.OpID
	m, ids := buildCanonicalLoop(t, 3, 1, func(b *ir.Builder, phi ir.OpID) {
		dummy = b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{phi, phi}, ir.AttrMap{})
	})
	_ = dummy
	before := len(m.Region(ids.region).Blocks)

	changed := ConstLoopUnroll{Threshold: 8}.Apply(m)
	require.True(t, changed)

	assert.Len(t, m.Region(ids.region).Blocks, before, "3 loop blocks removed, 3 unrolled blocks added")
	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.header))
	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.body))
	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.latch))

	// Walk the new straight-line chain from entry and confirm it reaches
	// exit after exactly 3 hops, each carrying one cloned AddI.
	cur := ids.entry
	for i := 0; i < 3; i++ {
		term := m.Block(cur).Terminator()
		require.Equal(t, ir.OpGoto, m.Op(term).Opcode)
		target, ok := m.Op(term).Attrs.Block(ir.AttrTarget)
		require.True(t, ok)
		require.NotEqual(t, cur, target)
		cur = target
		foundAdd := false
		for _, opID := range m.Block(cur).Ops {
			if m.Op(opID).Opcode == ir.OpAddI {
				foundAdd = true
			}
		}
		assert.True(t, foundAdd, "unrolled block %d should carry the cloned body op", i)
	}
	assert.Equal(t, ids.exit, cur)
}

func TestConstLoopUnrollSkipsLoopsAboveThreshold(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 100, 1, nil)
	changed := ConstLoopUnroll{Threshold: 8}.Apply(m)
	assert.False(t, changed)
	assert.True(t, containsBlock(m.Region(ids.region).Blocks, ids.header))
}

func TestRemoveEmptyLoopDeletesDeadLoop(t *testing.T) {
	var dead ir.OpID
	m, ids := buildCanonicalLoop(t, 5, 1, func(b *ir.Builder, phi ir.OpID) {
		dead = b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{phi, phi}, ir.AttrMap{})
	})
	_ = dead

	r := &RemoveEmptyLoop{}
	changed := r.Apply(m)
	require.True(t, changed)

	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.header))
	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.body))
	assert.False(t, containsBlock(m.Region(ids.region).Blocks, ids.latch))

	term := m.Block(ids.entry).Terminator()
	target, ok := m.Op(term).Attrs.Block(ir.AttrTarget)
	require.True(t, ok)
	assert.Equal(t, ids.exit, target)
}

func TestRemoveEmptyLoopLeavesLoopsWithSideEffectsAlone(t *testing.T) {
	m, ids := buildCanonicalLoop(t, 5, 1, func(b *ir.Builder, phi ir.OpID) {
		addr := b.Create(ir.OpAlloca, ir.TypeI32, nil, ir.AttrMap{})
		b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, phi}, ir.AttrMap{})
	})
	r := &RemoveEmptyLoop{}
	changed := r.Apply(m)
	assert.False(t, changed)
	assert.True(t, containsBlock(m.Region(ids.region).Blocks, ids.header))
}
