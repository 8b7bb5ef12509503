package passmgr

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"rvopt/internal/diag"
	"rvopt/internal/ir"
)

// DiffRunner is the interpreter's contract with the pass manager (spec.md
// §4.15/§9): run the module to completion against saved stdin and report
// stdout and exit code. internal/interp implements this; passmgr only
// depends on the interface so the two packages don't need to know about
// each other's internals.
type DiffRunner interface {
	Run(m *ir.Module, stdin string) (stdout string, exitCode int, err error)
}

// Expected is the parsed differential-testing oracle (spec.md §6): the last
// line of the compare-with file is a decimal exit code, everything before it
// is expected stdout with trailing whitespace ignored.
type Expected struct {
	Stdout   string
	ExitCode int
}

// StatEntry records one pass's before/after op count for the --stats report.
type StatEntry struct {
	Pass       string
	Changed    bool
	OpsBefore  int
	OpsAfter   int
}

// Manager runs an ordered queue of passes over a Module, tracking the
// lifecycle booleans spec.md §4.15 names (pastFlatten, pastMem2Reg,
// inBackend) and invoking the print/verify/stats/diff hooks around each.
type Manager struct {
	passes []GatedPass

	PastFlatten  bool
	PastMem2Reg  bool
	InBackend    bool

	Verbose    bool
	Verify     bool
	Stats      bool
	PrintAfter map[string]bool
	PrintBeforeSet map[string]bool

	Diff     DiffRunner
	Expected *Expected
	Stdin    string

	Out io.Writer
	Err io.Writer

	StatLog []StatEntry
}

func NewManager(out, errw io.Writer) *Manager {
	return &Manager{
		Out:            out,
		Err:            errw,
		PrintAfter:     map[string]bool{},
		PrintBeforeSet: map[string]bool{},
	}
}

// Add appends a pass with the given gate. MarkFlattened / MarkMem2Reg /
// MarkBackend flip the lifecycle booleans at the point the driver knows the
// corresponding transformation has actually run; the Manager itself never
// guesses a pass's effect on lifecycle from its name.
func (mgr *Manager) Add(p Pass, gate Gate) {
	mgr.passes = append(mgr.passes, GatedPass{Pass: p, Gate: gate})
}

func (mgr *Manager) MarkFlattened() { mgr.PastFlatten = true }
func (mgr *Manager) MarkMem2Reg()   { mgr.PastMem2Reg = true }
func (mgr *Manager) MarkBackend()   { mgr.InBackend = true }

// Run executes every queued pass in order, applying the configured hooks.
// It returns the first fatal error encountered (verify failure or
// differential-test mismatch); passes are total, so a returned error always
// means the whole run aborts, never a partial rewrite (spec.md §7).
func (mgr *Manager) Run(m *ir.Module) error {
	for _, gp := range mgr.passes {
		if err := mgr.runOne(m, gp); err != nil {
			return err
		}
	}
	return nil
}

func (mgr *Manager) runOne(m *ir.Module, gp GatedPass) error {
	name := gp.Name()
	switch gp.Gate {
	case GateStructuredOnly:
		if mgr.PastFlatten {
			return diag.Wrap(fmt.Errorf("pass %s requires structured CFG but flattening already ran", name), "E1000", "pass scheduling")
		}
	case GateFlatOnly:
		if !mgr.PastFlatten {
			return diag.Wrap(fmt.Errorf("pass %s requires flat CFG before flattening ran", name), "E1000", "pass scheduling")
		}
	case GatePostMem2RegOnly:
		if !mgr.PastMem2Reg {
			return diag.Wrap(fmt.Errorf("pass %s requires Mem2Reg to have already run", name), "E1000", "pass scheduling")
		}
	}

	if mgr.PrintBeforeSet[name] {
		mgr.printDump("before", name, m)
	}

	opsBefore := countOps(m)
	changed := gp.Apply(m)
	opsAfter := countOps(m)

	if mgr.Verbose {
		status := color.New(color.FgYellow).Sprint("no changes")
		if changed {
			status = color.New(color.FgGreen).Sprint("applied")
		}
		fmt.Fprintf(mgr.Out, "  - %s: %s (%s)\n", name, gp.Description(), status)
	}

	if mgr.Stats {
		mgr.StatLog = append(mgr.StatLog, StatEntry{Pass: name, Changed: changed, OpsBefore: opsBefore, OpsAfter: opsAfter})
	}

	if mgr.PrintAfter[name] {
		mgr.printDump("after", name, m)
	}

	if mgr.Verify && mgr.PastMem2Reg {
		if errs := ir.Verify(m); len(errs) > 0 {
			var r diag.Reporter
			for _, e := range errs {
				r.Errorf("E1001", "%s (pass %s)", e.Error(), name)
			}
			r.WriteTo(mgr.Err)
			return fmt.Errorf("IR verification failed after pass %s", name)
		}
	}

	if mgr.Diff != nil && mgr.Expected != nil && mgr.PastFlatten && !mgr.InBackend {
		stdout, code, err := mgr.Diff.Run(m, mgr.Stdin)
		if err != nil {
			return diag.Wrap(err, "E3000", fmt.Sprintf("interpreter failed after pass %s", name))
		}
		wantStdout := strings.TrimRight(mgr.Expected.Stdout, " \t\r\n")
		gotStdout := strings.TrimRight(stdout, " \t\r\n")
		if gotStdout != wantStdout {
			fmt.Fprintf(mgr.Err, "differential test failed after pass %s: stdout mismatch\n  want: %q\n  got:  %q\n", name, wantStdout, gotStdout)
			return diag.Wrap(fmt.Errorf("stdout mismatch"), "E3001", "differential test after pass "+name)
		}
		if code != mgr.Expected.ExitCode {
			fmt.Fprintf(mgr.Err, "differential test failed after pass %s: exit code mismatch\n  want: %d\n  got:  %d\n", name, mgr.Expected.ExitCode, code)
			return diag.Wrap(fmt.Errorf("exit code mismatch"), "E3002", "differential test after pass "+name)
		}
	}

	return nil
}

func (mgr *Manager) printDump(when, name string, m *ir.Module) {
	header := color.New(color.FgCyan, color.Bold).Sprintf("== %s %s ==", when, name)
	fmt.Fprintln(mgr.Out, header)
	fmt.Fprintln(mgr.Out, ir.Print(m))
}

func countOps(m *ir.Module) int {
	n := 0
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		blocks := ir.AllBlocksInFunc(m, fn.ID())
		for _, b := range blocks {
			n += len(m.Block(b).Ops)
		}
	}
	return n
}

// PrintStats writes the accumulated --stats report.
func (mgr *Manager) PrintStats() {
	for _, e := range mgr.StatLog {
		delta := e.OpsAfter - e.OpsBefore
		fmt.Fprintf(mgr.Out, "%-20s ops %4d -> %4d (%+d)\n", e.Pass, e.OpsBefore, e.OpsAfter, delta)
	}
}
