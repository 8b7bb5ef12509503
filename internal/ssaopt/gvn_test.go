package ssaopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/ir"
)

func TestGVNReplacesRedundantPureOp(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", []ir.Parameter{{Name: "x", Type: ir.TypeI32}, {Name: "y", Type: ir.TypeI32}}, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	x := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
	y := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	sum1 := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{x, y}, nil)
	sum2 := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{x, y}, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{sum2}, nil)

	g := &GVN{}
	changed := g.Apply(m)
	require.True(t, changed)

	blk := m.Block(entry)
	assert.NotContains(t, blk.Ops, sum2)
	assert.Contains(t, blk.Ops, sum1)
}

func TestGVNRespectsCommutativity(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", []ir.Parameter{{Name: "x", Type: ir.TypeI32}, {Name: "y", Type: ir.TypeI32}}, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	x := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
	y := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	sum1 := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{x, y}, nil)
	sum2 := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{y, x}, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{sum2}, nil)

	g := &GVN{}
	changed := g.Apply(m)
	require.True(t, changed)

	blk := m.Block(entry)
	assert.NotContains(t, blk.Ops, sum2)
	assert.Contains(t, blk.Ops, sum1)
}

func TestGVNDoesNotMergeAcrossSiblingBranches(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", []ir.Parameter{{Name: "x", Type: ir.TypeI32}, {Name: "y", Type: ir.TypeI32}}, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	left := b.NewBlockIn(region, "left")
	right := b.NewBlockIn(region, "right")
	join := b.NewBlockIn(region, "join")

	b.SetCursor(ir.AtBlockEnd(entry))
	x := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
	y := b.Create(ir.OpGetArg, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	cond := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	b.Create(ir.OpBranch, ir.TypeVoid, []ir.OpID{cond}, ir.AttrMap{
		ir.AttrTarget: {Kind: ir.AttrTarget, Block: left},
		ir.AttrElse:   {Kind: ir.AttrElse, Block: right},
	})

	b.SetCursor(ir.AtBlockEnd(left))
	leftSum := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{x, y}, nil)
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: join}})

	b.SetCursor(ir.AtBlockEnd(right))
	rightSum := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{x, y}, nil)
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: join}})

	b.SetCursor(ir.AtBlockEnd(join))
	phi := b.Create(ir.OpPhi, ir.TypeI32, nil, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{phi}, nil)

	ir.RecomputePredsSuccs(m, region)
	ir.AddPhiOperand(m, phi, leftSum, left)
	ir.AddPhiOperand(m, phi, rightSum, right)

	g := &GVN{}
	g.Apply(m)

	assert.Contains(t, m.Block(left).Ops, leftSum)
	assert.Contains(t, m.Block(right).Ops, rightSum)
}
