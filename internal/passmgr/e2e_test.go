package passmgr_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvopt/internal/flatten"
	"rvopt/internal/frontend"
	"rvopt/internal/interp"
	"rvopt/internal/ir"
	"rvopt/internal/passmgr"
	"rvopt/internal/ssaopt"
	"rvopt/internal/structured"
)

func lowerProgram(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, perr, err := frontend.ParseString("e2e.sy", src)
	require.NoError(t, err, "%v", perr)
	m, rep := frontend.Lower("e2e", prog)
	require.False(t, rep.HasErrors(), "%v", rep.Diagnostics())
	return m
}

// basicPipeline schedules just enough of the default plan to exercise every
// Manager lifecycle gate: a structured cleanup pass, Flatten, Mem2Reg, and a
// couple of SSA-level fixpoint passes.
func basicPipeline(mgr *passmgr.Manager) {
	mgr.Add(structured.MoveAlloca{}, passmgr.GateStructuredOnly)
	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{mgr.MarkFlattened}, passmgr.GateAny)
	mgr.Add(ssaopt.Mem2Reg{}, passmgr.GateFlatOnly)
	mgr.Add(markerPass{mgr.MarkMem2Reg}, passmgr.GateAny)
	mgr.Add(&ssaopt.DCE{}, passmgr.GatePostMem2RegOnly)
	mgr.Add(&ssaopt.GVN{}, passmgr.GatePostMem2RegOnly)
	mgr.Add(ssaopt.SimplifyCFG{}, passmgr.GatePostMem2RegOnly)
}

type markerPass struct{ fn func() }

func (markerPass) Name() string        { return "marker" }
func (markerPass) Description() string { return "flips a Manager lifecycle flag" }
func (p markerPass) Apply(m *ir.Module) bool {
	p.fn()
	return false
}

func TestE2EPipelinePreservesProgramBehavior(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	int a = 1;
	int b = 2;
	putint(a + b);
	return 0;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	basicPipeline(mgr)

	require.NoError(t, mgr.Run(m))

	in := interp.New()
	stdout, code, err := in.Run(m, "")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "3", strings.TrimSpace(stdout))
}

func TestE2EGateViolationAbortsRun(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	return 0;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{mgr.MarkFlattened}, passmgr.GateAny)
	// A structured-only pass scheduled after flattening must be rejected.
	mgr.Add(structured.MoveAlloca{}, passmgr.GateStructuredOnly)

	err := mgr.Run(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E1000")
}

func TestE2EPostMem2RegPassBeforeMem2RegAborts(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	return 0;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{mgr.MarkFlattened}, passmgr.GateAny)
	mgr.Add(&ssaopt.DCE{}, passmgr.GatePostMem2RegOnly)

	err := mgr.Run(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E1000")
}

func TestE2EVerifyCatchesBrokenIR(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	int a;
	if (getint() > 0) {
		a = 1;
	} else {
		a = 2;
	}
	return a;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	mgr.Verify = true
	mgr.Add(structured.MoveAlloca{}, passmgr.GateStructuredOnly)
	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{mgr.MarkFlattened}, passmgr.GateAny)
	mgr.Add(ssaopt.Mem2Reg{}, passmgr.GateFlatOnly)
	mgr.Add(markerPass{mgr.MarkMem2Reg}, passmgr.GateAny)
	mgr.Add(breakingPass{}, passmgr.GatePostMem2RegOnly)

	err := mgr.Run(m)
	require.Error(t, err)
	assert.Contains(t, errw.String(), "E1001")
}

// breakingPass truncates the first Phi it finds to an inconsistent operand
// count, forcing Verify to fail once Manager.Verify is enabled.
type breakingPass struct{}

func (breakingPass) Name() string        { return "breaking" }
func (breakingPass) Description() string { return "corrupts a Phi for verify testing" }
func (breakingPass) Apply(m *ir.Module) bool {
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		for _, bid := range ir.AllBlocksInFunc(m, fn.ID()) {
			for _, opID := range m.Block(bid).Ops {
				op := m.Op(opID)
				if op.Opcode == ir.OpPhi && len(op.Operands) > 1 {
					op.Operands = op.Operands[:1]
					op.PhiFrom = op.PhiFrom[:1]
					return true
				}
			}
		}
	}
	return false
}

func TestE2EDifferentialDiffMismatchAborts(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	putint(1);
	return 0;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	mgr.Diff = interp.New()
	mgr.Expected = &passmgr.Expected{Stdout: "2", ExitCode: 0}
	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{mgr.MarkFlattened}, passmgr.GateAny)
	mgr.Add(ssaopt.Mem2Reg{}, passmgr.GateFlatOnly)

	err := mgr.Run(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E3001")
}

func TestE2EStatsRecordsOpCountDeltas(t *testing.T) {
	m := lowerProgram(t, `
int main() {
	int a = 1;
	int b = 2;
	int dead = a + b;
	return a;
}
`)
	var out, errw bytes.Buffer
	mgr := passmgr.NewManager(&out, &errw)
	mgr.Stats = true
	basicPipeline(mgr)

	require.NoError(t, mgr.Run(m))
	require.NotEmpty(t, mgr.StatLog)

	var sawDrop bool
	for _, e := range mgr.StatLog {
		if e.OpsAfter < e.OpsBefore {
			sawDrop = true
		}
	}
	assert.True(t, sawDrop, "expected at least one pass to reduce op count")
}
