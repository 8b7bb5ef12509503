package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/ir"
)

func lowerSource(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, perr, err := ParseString("test.sy", src)
	require.NoError(t, err, "%v", perr)
	m, rep := Lower("test", prog)
	require.False(t, rep.HasErrors(), "%v", rep.Diagnostics())
	return m
}

func countOpcode(m *ir.Module, op ir.Opcode) int {
	n := 0
	for _, fid := range m.Functions {
		n += len(ir.FindAllOpcode(m, m.Func(fid).Region, op))
	}
	return n
}

func TestLowerSimpleFunction(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int a = 1;
	int b = 2;
	return a + b;
}
`)
	fn := m.FuncByName("main")
	require.NotNil(t, fn)
	assert.Equal(t, ir.TypeI32, fn.ReturnType)
	assert.Equal(t, 1, countOpcode(m, ir.OpReturn))
	assert.Equal(t, 1, countOpcode(m, ir.OpAddI))
}

func TestLowerCanonicalForEmitsOpFor(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int sum = 0;
	for (int i = 0; i < 10; i++) {
		sum = sum + i;
	}
	return sum;
}
`)
	assert.Equal(t, 1, countOpcode(m, ir.OpFor))
	assert.Equal(t, 0, countOpcode(m, ir.OpWhile))
}

func TestLowerDescendingForFallsBackToWhile(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int sum = 0;
	for (int i = 10; i > 0; i = i - 1) {
		sum = sum + i;
	}
	return sum;
}
`)
	assert.Equal(t, 0, countOpcode(m, ir.OpFor))
	assert.Equal(t, 1, countOpcode(m, ir.OpWhile))
}

func TestLowerForWithStrideEmitsOpFor(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int sum = 0;
	for (int i = 0; i < 100; i += 4) {
		sum = sum + i;
	}
	return sum;
}
`)
	require.Equal(t, 1, countOpcode(m, ir.OpFor))
	var forOp *ir.Op
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		for _, bid := range m.Region(fn.Region).Blocks {
			for _, opID := range m.Block(bid).Ops {
				if m.Op(opID).Opcode == ir.OpFor {
					forOp = m.Op(opID)
				}
			}
		}
	}
	require.NotNil(t, forOp)
	step, _ := forOp.Attrs.Int(ir.AttrInt)
	assert.Equal(t, int64(4), step)
}

func TestLowerWhileLoop(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int i = 0;
	while (i < 5) {
		i = i + 1;
	}
	return i;
}
`)
	assert.Equal(t, 1, countOpcode(m, ir.OpWhile))
}

func TestLowerIfElse(t *testing.T) {
	m := lowerSource(t, `
int choose(int x) {
	if (x > 0) {
		return 1;
	} else {
		return -1;
	}
}
`)
	assert.Equal(t, 1, countOpcode(m, ir.OpIf))
	assert.Equal(t, 2, countOpcode(m, ir.OpReturn))
}

func TestLowerArrayIndexAddressing(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int a[10];
	a[3] = 7;
	return a[3];
}
`)
	assert.Equal(t, 2, countOpcode(m, ir.OpMulL))
	assert.Equal(t, 2, countOpcode(m, ir.OpAddL))
	assert.GreaterOrEqual(t, countOpcode(m, ir.OpLoad), 1)
	assert.GreaterOrEqual(t, countOpcode(m, ir.OpStore), 1)
}

func TestLowerGlobalArrayInitializer(t *testing.T) {
	m := lowerSource(t, `
int g[3] = {1, 2, 3};
int main() {
	return g[0];
}
`)
	require.Len(t, m.Globals, 1)
	g := m.Global(m.Globals[0])
	assert.Equal(t, "g", g.Name)
	assert.False(t, g.AllZero)
	assert.Equal(t, []int64{1, 2, 3}, g.IntInit)
}

func TestLowerGlobalScalarConstExpr(t *testing.T) {
	m := lowerSource(t, `
int k = 2 * 3 + 1;
int main() {
	return k;
}
`)
	require.Len(t, m.Globals, 1)
	g := m.Global(m.Globals[0])
	assert.Equal(t, []int64{7}, g.IntInit)
}

func TestLowerFloatArithmeticCoercion(t *testing.T) {
	m := lowerSource(t, `
float main() {
	int a = 1;
	float b = 2.0;
	return a + b;
}
`)
	assert.GreaterOrEqual(t, countOpcode(m, ir.OpIntToFloat), 1)
	assert.Equal(t, 1, countOpcode(m, ir.OpAddF))
}

func TestLowerLogicalOperators(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int a = 1;
	int b = 0;
	return a && b || !a;
}
`)
	assert.Equal(t, 1, countOpcode(m, ir.OpAndI))
	assert.Equal(t, 1, countOpcode(m, ir.OpOrI))
}

func TestLowerCallToExternBuiltin(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int x = getint();
	putint(x);
	return 0;
}
`)
	assert.Equal(t, 2, countOpcode(m, ir.OpCall))
}

func TestLowerUndeclaredVariableReportsError(t *testing.T) {
	prog, _, err := ParseString("test.sy", `
int main() {
	return y;
}
`)
	require.NoError(t, err)
	_, rep := Lower("test", prog)
	assert.True(t, rep.HasErrors())
}

func TestLowerBreakContinueInGeneralFor(t *testing.T) {
	m := lowerSource(t, `
int main() {
	int sum = 0;
	for (int i = 10; i > 0; i = i - 1) {
		if (i == 5) {
			continue;
		}
		if (i == 2) {
			break;
		}
		sum = sum + i;
	}
	return sum;
}
`)
	assert.Equal(t, 1, countOpcode(m, ir.OpBreak))
	assert.Equal(t, 1, countOpcode(m, ir.OpContinue))
}
