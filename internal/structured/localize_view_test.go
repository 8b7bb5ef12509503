package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/ir"
)

func TestLocalizeDemotesSingleFunctionGlobal(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	gid := b.NewGlobal("g", 4, ir.TypeI32, nil, []int64{7}, nil, false)

	fid := b.NewFunction("f", nil, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	addr := b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: "g"}})
	loaded := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{addr}, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{loaded}, nil)

	changed := Localize{}.Apply(m)
	require.True(t, changed)

	assert.Empty(t, m.Globals)
	blk := m.Block(entry)
	sawAlloca := false
	for _, opID := range blk.Ops {
		if m.Op(opID).Opcode == ir.OpAlloca {
			sawAlloca = true
		}
		assert.NotEqual(t, ir.OpGetGlobal, m.Op(opID).Opcode)
	}
	assert.True(t, sawAlloca)
	_ = gid
}

func TestLocalizeSkipsGlobalUsedByTwoFunctions(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	b.NewGlobal("g", 4, ir.TypeI32, nil, []int64{0}, nil, true)

	for _, name := range []string{"f", "h"} {
		fid := b.NewFunction(name, nil, ir.TypeI32)
		region := m.Func(fid).Region
		entry := m.Region(region).Entry()
		b.SetCursor(ir.AtBlockEnd(entry))
		addr := b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: "g"}})
		loaded := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{addr}, nil)
		b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{loaded}, nil)
	}

	changed := Localize{}.Apply(m)
	assert.False(t, changed)
	assert.Len(t, m.Globals, 1)
}

func TestLocalizeSkipsGlobalWhoseAddressEscapes(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	b.NewGlobal("g", 4, ir.TypeI32, nil, []int64{0}, nil, true)

	callee := b.NewFunction("callee", []ir.Parameter{{Name: "p", Type: ir.TypeI64}}, ir.TypeVoid)
	calleeRegion := m.Func(callee).Region
	calleeEntry := m.Region(calleeRegion).Entry()
	b.SetCursor(ir.AtBlockEnd(calleeEntry))
	b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)

	fid := b.NewFunction("f", nil, ir.TypeVoid)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))
	addr := b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: "g"}})
	b.Create(ir.OpCall, ir.TypeVoid, []ir.OpID{addr}, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: "callee"}})
	b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)

	changed := Localize{}.Apply(m)
	assert.False(t, changed)
	assert.Len(t, m.Globals, 1)
}

func TestViewFoldsNestedOffsetChain(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", nil, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	base := b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{ir.AttrSize: {Kind: ir.AttrSize, Size: 16}})
	c1 := b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 4}})
	inner := b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{c1, base}, nil)
	c2 := b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 8}})
	outer := b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{c2, inner}, nil)
	loaded := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{outer}, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{loaded}, nil)

	changed := View{}.Apply(m)
	require.True(t, changed)

	loadOp := m.Op(loaded)
	foldedAddr := m.Op(loadOp.Operands[0])
	require.Equal(t, ir.OpAddL, foldedAddr.Opcode)
	off, ok := m.Op(foldedAddr.Operands[0]).Attrs.Int(ir.AttrInt)
	require.True(t, ok)
	assert.Equal(t, int64(12), off)
	assert.Equal(t, base, foldedAddr.Operands[1])
}

func TestViewIsNoopOnCanonicalAddress(t *testing.T) {
	m := ir.NewModule("test")
	b := ir.NewBuilder(m)
	fid := b.NewFunction("f", nil, ir.TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(ir.AtBlockEnd(entry))

	base := b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{ir.AttrSize: {Kind: ir.AttrSize, Size: 16}})
	c1 := b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 4}})
	addr := b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{c1, base}, nil)
	loaded := b.Create(ir.OpLoad, ir.TypeI32, []ir.OpID{addr}, nil)
	b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{loaded}, nil)

	assert.False(t, View{}.Apply(m))
}
