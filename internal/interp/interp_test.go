package interp_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/flatten"
	"rvopt/internal/frontend"
	"rvopt/internal/interp"
	"rvopt/internal/ir"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, perr, err := frontend.ParseString("interp.sy", src)
	require.NoError(t, err, "%v", perr)
	m, rep := frontend.Lower("interp", prog)
	require.False(t, rep.HasErrors(), "%v", rep.Diagnostics())
	flatten.Flatten{}.Apply(m)
	return m
}

func TestRunReturnsExitCode(t *testing.T) {
	m := lower(t, `
int main() {
	return 7;
}
`)
	stdout, code, err := interp.New().Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, "", stdout)
}

func TestRunPutint(t *testing.T) {
	m := lower(t, `
int main() {
	putint(123);
	return 0;
}
`)
	stdout, code, err := interp.New().Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "123", stdout)
}

func TestRunGetintReadsStdin(t *testing.T) {
	m := lower(t, `
int main() {
	int a = getint();
	int b = getint();
	putint(a + b);
	return 0;
}
`)
	stdout, code, err := interp.New().Run(m, "10\n32\n")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "42", stdout)
}

func TestRunLoopAccumulates(t *testing.T) {
	m := lower(t, `
int main() {
	int sum = 0;
	for (int i = 1; i <= 10; i = i + 1) {
		sum = sum + i;
	}
	putint(sum);
	return 0;
}
`)
	stdout, code, err := interp.New().Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "55", stdout)
}

func TestRunArrayIndexingRoundTrips(t *testing.T) {
	m := lower(t, `
int main() {
	int a[5];
	int i = 0;
	for (i = 0; i < 5; i = i + 1) {
		a[i] = i * i;
	}
	int total = 0;
	for (i = 0; i < 5; i = i + 1) {
		total = total + a[i];
	}
	putint(total);
	return 0;
}
`)
	stdout, code, err := interp.New().Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "30", stdout)
}

func TestRunExitCodeIsMaskedToByte(t *testing.T) {
	m := lower(t, `
int main() {
	return 300;
}
`)
	_, code, err := interp.New().Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 300&0xff, code)
}

func TestRunMultilineOutputIsConcatenated(t *testing.T) {
	m := lower(t, `
int main() {
	putint(1);
	putch(10);
	putint(2);
	return 0;
}
`)
	stdout, _, err := interp.New().Run(m, "")
	require.NoError(t, err)
	lines := strings.Split(stdout, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1", lines[0])
	assert.Equal(t, "2", lines[1])
}
