package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiamond builds entry -> (left, right) -> join, with join carrying a
// Phi over a value defined in each predecessor, the minimal flat-CFG shape
// Verify's dominance and Phi-shape checks both exercise.
func buildDiamond(t *testing.T) (*Module, BlockID, OpID) {
	t.Helper()
	m := NewModule("test")
	b := NewBuilder(m)
	fid := b.NewFunction("f", nil, TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	left := b.NewBlockIn(region, "left")
	right := b.NewBlockIn(region, "right")
	join := b.NewBlockIn(region, "join")

	b.SetCursor(AtBlockEnd(entry))
	cond := b.Create(OpIntConst, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 1}})
	b.Create(OpBranch, TypeVoid, []OpID{cond}, AttrMap{
		AttrTarget: {Kind: AttrTarget, Block: left},
		AttrElse:   {Kind: AttrElse, Block: right},
	})

	b.SetCursor(AtBlockEnd(left))
	leftVal := b.Create(OpIntConst, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 1}})
	b.Create(OpGoto, TypeVoid, nil, AttrMap{AttrTarget: {Kind: AttrTarget, Block: join}})

	b.SetCursor(AtBlockEnd(right))
	rightVal := b.Create(OpIntConst, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 2}})
	b.Create(OpGoto, TypeVoid, nil, AttrMap{AttrTarget: {Kind: AttrTarget, Block: join}})

	b.SetCursor(AtBlockEnd(join))
	phi := b.Create(OpPhi, TypeI32, nil, nil)
	b.Create(OpReturn, TypeVoid, []OpID{phi}, nil)

	RecomputePredsSuccs(m, region)
	AddPhiOperand(m, phi, leftVal, left)
	AddPhiOperand(m, phi, rightVal, right)

	return m, join, phi
}

func TestVerifyAcceptsWellFormedDiamond(t *testing.T) {
	m, _, _ := buildDiamond(t)
	errs := Verify(m)
	assert.Empty(t, errs)
}

func TestVerifyRejectsPhiOperandCountMismatch(t *testing.T) {
	m, _, phi := buildDiamond(t)
	// Drop one incoming operand so the Phi no longer matches join's
	// predecessor count.
	op := m.Op(phi)
	op.Operands = op.Operands[:1]
	op.PhiFrom = op.PhiFrom[:1]

	errs := Verify(m)
	require.NotEmpty(t, errs)
}

func TestVerifyRejectsPhiFromUnknownPredecessor(t *testing.T) {
	m, _, phi := buildDiamond(t)
	op := m.Op(phi)
	op.PhiFrom[0] = BlockID(9999)

	errs := Verify(m)
	require.NotEmpty(t, errs)
}

func TestVerifyRejectsNonDominatingOperand(t *testing.T) {
	m := NewModule("test")
	b := NewBuilder(m)
	fid := b.NewFunction("f", nil, TypeI32)
	region := m.Func(fid).Region
	entry := m.Region(region).Entry()
	other := b.NewBlockIn(region, "other")

	b.SetCursor(AtBlockEnd(other))
	val := b.Create(OpIntConst, TypeI32, nil, AttrMap{AttrInt: {Kind: AttrInt, Int: 1}})
	b.Create(OpGoto, TypeVoid, nil, AttrMap{AttrTarget: {Kind: AttrTarget, Block: entry}})

	// entry uses a value only defined in a block it doesn't dominate.
	b.SetCursor(AtBlockEnd(entry))
	b.Create(OpReturn, TypeVoid, []OpID{val}, nil)

	RecomputePredsSuccs(m, region)
	errs := Verify(m)
	require.NotEmpty(t, errs)
}
