package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/sat"
)

func TestModuleNameOfStripsDirAndExtension(t *testing.T) {
	assert.Equal(t, "prog", moduleNameOf("/tmp/work/prog.sy"))
	assert.Equal(t, "prog", moduleNameOf("prog.sy"))
	assert.Equal(t, "prog", moduleNameOf("prog"))
}

func TestParseDIMACSParsesHeaderAndClauses(t *testing.T) {
	text := "c a comment\np cnf 3 2\n1 -2 0\n-1 3 0\n"
	nvars, clauses, err := parseDIMACS(text)
	require.NoError(t, err)
	assert.Equal(t, 3, nvars)
	require.Len(t, clauses, 2)
	assert.Equal(t, []sat.Literal{sat.Lit(0), sat.NegLit(1)}, clauses[0])
	assert.Equal(t, []sat.Literal{sat.NegLit(0), sat.Lit(2)}, clauses[1])
}

func TestParseDIMACSSkipsBlankAndCommentLines(t *testing.T) {
	text := "\nc header\nc more comments\np cnf 1 1\n1 0\n"
	nvars, clauses, err := parseDIMACS(text)
	require.NoError(t, err)
	assert.Equal(t, 1, nvars)
	require.Len(t, clauses, 1)
}

func TestLoadExpectedParsesOracleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oracle.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nworld\n0\n"), 0o644))

	exp, err := loadExpected(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", exp.Stdout)
	assert.Equal(t, 0, exp.ExitCode)
}

func TestLoadExpectedRejectsNonNumericLastLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oracle.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nnot-a-number\n"), 0o644))

	_, err := loadExpected(path)
	assert.Error(t, err)
}

func TestExpandFixpointRepeatsDetectedSpan(t *testing.T) {
	names := []string{"tco", "regular-fold", "gvn", "dce", "select"}
	out := expandFixpoint(names, 2)
	assert.Equal(t, []string{
		"tco",
		"regular-fold", "gvn", "dce",
		"regular-fold", "gvn", "dce",
		"select",
	}, out)
}

func TestExpandFixpointDegradesWithoutFixpointNames(t *testing.T) {
	names := []string{"tco", "select"}
	out := expandFixpoint(names, 3)
	assert.Equal(t, names, out)
}

func TestExpandFixpointTreatsRepeatLessThanOneAsOne(t *testing.T) {
	names := []string{"dce"}
	out := expandFixpoint(names, 0)
	assert.Equal(t, []string{"dce"}, out)
}
