package bitvector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/sat"
)

func TestAddConstantsProducesExpectedSum(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(3, 8)
	b := ctx.NewConst(4, 8)
	sum, _ := ctx.Add(a, b)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.EqualValues(t, 7, Eval(sum, model))
}

func TestFixConstrainsFreeVariable(t *testing.T) {
	ctx := NewContext()
	x := ctx.NewVar(8)
	ctx.Fix(x, 42)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.EqualValues(t, 42, Eval(x, model))
}

func TestAssertEqualForcesEquality(t *testing.T) {
	ctx := NewContext()
	x := ctx.NewVar(8)
	y := ctx.NewVar(8)
	ctx.Fix(x, 17)
	ctx.AssertEqual(x, y)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.EqualValues(t, 17, Eval(y, model))
}

func TestSubRecoversOperand(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(10, 8)
	b := ctx.NewConst(3, 8)
	diff := ctx.Sub(a, b)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.EqualValues(t, 7, Eval(diff, model))
}

func TestMulConstants(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(6, 8)
	b := ctx.NewConst(7, 8)
	prod := ctx.Mul(a, b)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.EqualValues(t, 42, Eval(prod, model))
}

func TestEqLiteralMatchesEqualConstants(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(9, 8)
	b := ctx.NewConst(9, 8)
	eq := ctx.Eq(a, b)

	ok, model := ctx.S.Solve()
	require.True(t, ok)
	assert.True(t, litTrue(eq, model))
}

func TestULtOrdersUnsignedConstants(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(3, 8)
	b := ctx.NewConst(5, 8)
	lt := ctx.ULt(a, b)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.True(t, litTrue(lt, model))
}

func TestSLtHandlesNegativeEncoding(t *testing.T) {
	ctx := NewContext()
	neg := ctx.NewConst(-1, 8)
	pos := ctx.NewConst(1, 8)
	lt := ctx.SLt(neg, pos)

	sat, model := ctx.S.Solve()
	require.True(t, sat)
	assert.True(t, litTrue(lt, model))
}

func TestUDivProducesQuotientAndRemainder(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewConst(17, 8)
	b := ctx.NewConst(5, 8)
	q, r := ctx.UDiv(a, b)

	ok, model := ctx.S.Solve()
	require.True(t, ok)
	assert.EqualValues(t, 3, Eval(q, model))
	assert.EqualValues(t, 2, Eval(r, model))
}

func litTrue(lit sat.Literal, model []bool) bool {
	v := model[lit.Var()]
	if lit.Sign() {
		v = !v
	}
	return v
}
