package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintIncludesModuleFunctionAndGlobalNames(t *testing.T) {
	m := NewModule("demo")
	b := NewBuilder(m)
	b.NewGlobal("counter", 4, TypeI32, nil, []int64{0}, nil, true)

	fid := b.NewFunction("add", []Parameter{{Name: "x", Type: TypeI32}, {Name: "y", Type: TypeI32}}, TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(AtBlockEnd(entry))
	x := b.Create(OpGetArg, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 0}})
	y := b.Create(OpGetArg, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 1}})
	sum := b.Create(OpAddI, TypeI32, []OpID{x, y}, nil)
	b.Create(OpReturn, TypeVoid, []OpID{sum}, nil)

	text := Print(m)
	assert.True(t, strings.Contains(text, "module demo"))
	assert.True(t, strings.Contains(text, "counter"))
	assert.True(t, strings.Contains(text, "add"))
	assert.True(t, strings.Contains(text, "add.i"))
}

func TestPrintIsStableAcrossCalls(t *testing.T) {
	m := NewModule("demo")
	b := NewBuilder(m)
	fid := b.NewFunction("f", nil, TypeVoid)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	b.SetCursor(AtBlockEnd(entry))
	b.Create(OpReturn, TypeVoid, nil, nil)

	first := Print(m)
	second := Print(m)
	assert.Equal(t, first, second)
}
