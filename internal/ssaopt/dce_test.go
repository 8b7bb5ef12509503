package ssaopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/ir"
)

func TestDCEErasesUnusedPureOp(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", nil, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	one := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	two := b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 2}})
	dead := b.Create(ir.OpAddI, ir.TypeI32, []ir.OpID{one, two}, nil)
	ret := b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{one}, nil)
	_ = dead

	d := &DCE{}
	changed := d.Apply(m)
	require.True(t, changed)

	blk := m.Block(entry)
	for _, opID := range blk.Ops {
		assert.NotEqual(t, ir.OpAddI, m.Op(opID).Opcode)
	}
	assert.Contains(t, blk.Ops, ret)
}

func TestDCEErasesUnreachableBlock(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", nil, ir.TypeVoid)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	orphan := b.NewBlockIn(region, "orphan")

	b.SetCursor(ir.AtBlockEnd(entry))
	b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)

	b.SetCursor(ir.AtBlockEnd(orphan))
	b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)

	ir.RecomputePredsSuccs(m, region)

	d := &DCE{}
	changed := d.Apply(m)
	require.True(t, changed)

	assert.NotContains(t, m.Region(region).Blocks, orphan)
}

func TestDCEIsNoopOnMinimalFunction(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("main", nil, ir.TypeVoid)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))
	b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)

	d := &DCE{}
	assert.False(t, d.Apply(m))
}
