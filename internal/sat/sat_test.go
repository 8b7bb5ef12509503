package sat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteralEncoding(t *testing.T) {
	pos := Lit(3)
	neg := NegLit(3)
	assert.Equal(t, 3, pos.Var())
	assert.Equal(t, 3, neg.Var())
	assert.False(t, pos.Sign())
	assert.True(t, neg.Sign())
	assert.Equal(t, neg, pos.Neg())
}

func TestSolveSatisfiableUnitClauses(t *testing.T) {
	s := NewSolver(2)
	s.AddClause([]Literal{Lit(0)})
	s.AddClause([]Literal{NegLit(1)})

	sat, model := s.Solve()
	require.True(t, sat)
	require.Len(t, model, 2)
	assert.True(t, model[0])
	assert.False(t, model[1])
}

func TestSolveUnsatisfiableDirectConflict(t *testing.T) {
	s := NewSolver(1)
	s.AddClause([]Literal{Lit(0)})
	s.AddClause([]Literal{NegLit(0)})

	sat, _ := s.Solve()
	assert.False(t, sat)
}

func TestSolveRequiresBacktracking(t *testing.T) {
	// (a|b) & (a|!b) & (!a|b) & (!a|!b) is unsatisfiable: every assignment
	// of a,b falsifies one clause, forcing the solver to learn and
	// backtrack rather than accept its first decision.
	s := NewSolver(2)
	s.AddClause([]Literal{Lit(0), Lit(1)})
	s.AddClause([]Literal{Lit(0), NegLit(1)})
	s.AddClause([]Literal{NegLit(0), Lit(1)})
	s.AddClause([]Literal{NegLit(0), NegLit(1)})

	sat, _ := s.Solve()
	assert.False(t, sat)
}

func TestSolveThreeVariableChain(t *testing.T) {
	// a -> b -> c, plus a and !c: unsatisfiable.
	s := NewSolver(3)
	s.AddClause([]Literal{NegLit(0), Lit(1)})
	s.AddClause([]Literal{NegLit(1), Lit(2)})
	s.AddClause([]Literal{Lit(0)})
	s.AddClause([]Literal{NegLit(2)})

	sat, _ := s.Solve()
	assert.False(t, sat)
}

func TestAddVarGrowsVariableCount(t *testing.T) {
	s := NewSolver(0)
	v := s.AddVar()
	assert.Equal(t, 0, v)
	s.AddClause([]Literal{Lit(v)})

	sat, model := s.Solve()
	require.True(t, sat)
	require.Len(t, model, 1)
	assert.True(t, model[0])
}

func TestModelSatisfiesEveryClause(t *testing.T) {
	s := NewSolver(3)
	clauses := [][]Literal{
		{Lit(0), Lit(1), Lit(2)},
		{NegLit(0), Lit(1)},
		{NegLit(1), Lit(2)},
	}
	for _, c := range clauses {
		s.AddClause(c)
	}

	sat, model := s.Solve()
	require.True(t, sat)
	for _, c := range clauses {
		satisfied := false
		for _, lit := range c {
			v := model[lit.Var()]
			if lit.Sign() {
				v = !v
			}
			if v {
				satisfied = true
			}
		}
		assert.True(t, satisfied, "clause %v not satisfied by model %v", c, model)
	}
}
