// Command rvopt is the sole entry point spec.md §6 describes: it parses a
// SysY-subset source file, lowers it to the mid-level IR, runs the
// structured/flatten/SSA/loop/backend pass pipeline, and either emits the
// optimized IR or runs the pass manager's differential-testing /
// standalone-solver modes. Flags use the standard library's flag package
// rather than a third-party CLI framework because none of the example
// repos pull one in for a single flat flag set (see DESIGN.md).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"rvopt/internal/bitvector"
	"rvopt/internal/diag"
	"rvopt/internal/flatten"
	"rvopt/internal/frontend"
	"rvopt/internal/interp"
	"rvopt/internal/ir"
	"rvopt/internal/loopopt"
	"rvopt/internal/passmgr"
	"rvopt/internal/sat"
	"rvopt/internal/ssaopt"
	"rvopt/internal/structured"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type repeatFlags []string

func (r *repeatFlags) String() string { return strings.Join(*r, ",") }
func (r *repeatFlags) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func run(args []string) int {
	fs := flag.NewFlagSet("rvopt", flag.ContinueOnError)
	var (
		outPath     = fs.String("o", "", "output path (default: stdout)")
		noLink      = fs.Bool("S", false, "stop after optimization, do not link")
		optO1       = fs.Bool("O1", false, "enable the default optimization plan")
		useARM      = fs.Bool("arm", false, "target ARM (enables Vectorize)")
		useRV       = fs.Bool("rv", false, "target RISC-V (default)")
		verbose     = fs.Bool("v", false, "verbose pass output")
		stats       = fs.Bool("s", false, "print per-pass op-count stats")
		statsLong   = fs.Bool("stats", false, "print per-pass op-count stats")
		verify      = fs.Bool("verify", false, "run IR verification after every pass once Mem2Reg has run")
		dumpAST     = fs.Bool("dump-ast", false, "print the parsed AST and exit")
		dumpMidIR   = fs.Bool("dump-mid-ir", false, "print the final mid-level IR")
		comparePath = fs.String("compare", "", "differential-test oracle file")
		stdinPath   = fs.String("i", "", "simulated stdin file for differential testing")
		planPath    = fs.String("plan", "", "YAML pass-plan file (default: built-in plan)")
		satMode     = fs.Bool("sat", false, "standalone SAT solver mode")
		bvMode      = fs.Bool("bv", false, "standalone bit-vector solver mode")
	)
	var printAfter, printBefore repeatFlags
	fs.Var(&printAfter, "print-after", "dump the IR after the named pass (repeatable)")
	fs.Var(&printBefore, "print-before", "dump the IR before the named pass (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *useARM && *useRV {
		fmt.Fprintln(os.Stderr, diagLine(diag.ErrConflictingTarget, "--arm and --rv are mutually exclusive"))
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rvopt [flags] <file>")
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, diagLine(diag.ErrMultipleInputs, "exactly one input file is accepted"))
		return 1
	}
	path := fs.Arg(0)

	if *satMode {
		return runSAT(path)
	}
	if *bvMode {
		return runBV(path)
	}

	prog, perr, err := frontend.ParseFile(path)
	if err != nil {
		if perr != nil {
			perr.WriteTo(os.Stderr)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}

	if *dumpAST {
		fmt.Printf("%#v\n", prog)
		return 0
	}

	m, rep := frontend.Lower(moduleNameOf(path), prog)
	if rep.HasErrors() {
		rep.WriteTo(os.Stderr)
		return 1
	}

	plan, err := passmgr.LoadPlan(*planPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "reading pass plan"))
		return 1
	}
	plan.EnableVectorize = *useARM

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "creating output file"))
			return 1
		}
		defer f.Close()
		out = f
	}

	mgr := passmgr.NewManager(out, os.Stderr)
	mgr.Verbose = *verbose
	mgr.Verify = *verify
	mgr.Stats = *stats || *statsLong
	for _, n := range printAfter {
		mgr.PrintAfter[n] = true
	}
	for _, n := range printBefore {
		mgr.PrintBeforeSet[n] = true
	}

	var stdin string
	if *stdinPath != "" {
		data, err := os.ReadFile(*stdinPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "reading -i stdin file"))
			return 1
		}
		stdin = string(data)
	}
	mgr.Stdin = stdin

	if *comparePath != "" {
		expected, err := loadExpected(*comparePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "reading --compare oracle file"))
			return 1
		}
		mgr.Diff = interp.New()
		mgr.Expected = expected
	}

	_ = *optO1 // -O1 simply selects the (only) built-in plan; accepted for CLI fidelity
	_ = *noLink

	schedule(mgr, plan)

	if err := mgr.Run(m); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if mgr.Stats {
		mgr.PrintStats()
	}

	_ = *dumpMidIR // the final IR is always the program's output; this flag only exists for CLI fidelity with --print-after/--print-before
	fmt.Fprint(out, ir.Print(m))

	color.New(color.FgGreen).Fprintf(os.Stderr, "rvopt: %s compiled (%s)\n", path, targetName(*useARM))
	return 0
}

func targetName(arm bool) string {
	if arm {
		return "arm"
	}
	return "rv"
}

func moduleNameOf(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

func diagLine(code, msg string) string {
	return fmt.Sprintf("error[%s]: %s", code, msg)
}

// loadExpected parses the differential-test oracle format of spec.md §6:
// the last line is a decimal exit code, everything before it is expected
// stdout with trailing whitespace ignored.
func loadExpected(path string) (*passmgr.Expected, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return &passmgr.Expected{}, nil
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	code, err := strconv.Atoi(last)
	if err != nil {
		return nil, fmt.Errorf("oracle file %s: last line %q is not a decimal exit code", path, last)
	}
	stdout := strings.Join(lines[:len(lines)-1], "\n")
	return &passmgr.Expected{Stdout: stdout, ExitCode: code}, nil
}

// markerPass is a zero-cost Pass used to flip a passmgr.Manager lifecycle
// flag at the exact point in the queued sequence the driver knows the
// corresponding transformation has actually run, since Manager.Run executes
// its whole queue in one pass and MarkFlattened/MarkMem2Reg/MarkBackend are
// plain methods with no hook into Pass itself.
type markerPass struct {
	name string
	fn   func()
}

func (p markerPass) Name() string        { return p.name }
func (p markerPass) Description() string { return "pipeline lifecycle marker" }
func (p markerPass) Apply(m *ir.Module) bool {
	p.fn()
	return false
}

// schedule builds the full ordered queue spec.md §4.15 describes and adds
// it to mgr: structured cleanup, an explicit Flatten, Mem2Reg, the SSA
// fixpoint group (repeated plan.Repeat times, per RegularFold's "invoked
// repeatedly as other passes expose constants" note), loop passes, then
// backend.
func schedule(mgr *passmgr.Manager, plan passmgr.Plan) {
	reg := registry(plan)

	for _, name := range plan.Structured {
		mgr.Add(reg[name](), passmgr.GateStructuredOnly)
	}

	mgr.Add(flatten.Flatten{}, passmgr.GateStructuredOnly)
	mgr.Add(markerPass{"mark-flattened", mgr.MarkFlattened}, passmgr.GateAny)

	ssaNames := plan.SSA
	var rest []string
	sawMem2Reg := false
	for _, n := range ssaNames {
		if n == "mem2reg" && !sawMem2Reg {
			sawMem2Reg = true
			continue
		}
		rest = append(rest, n)
	}
	mgr.Add(reg["mem2reg"](), passmgr.GateFlatOnly)
	mgr.Add(markerPass{"mark-mem2reg", mgr.MarkMem2Reg}, passmgr.GateAny)

	for _, name := range expandFixpoint(rest, plan.Repeat) {
		mgr.Add(reg[name](), passmgr.GatePostMem2RegOnly)
	}

	for _, name := range plan.Loop {
		mgr.Add(reg[name](), passmgr.GatePostMem2RegOnly)
	}
	if plan.EnableVectorize {
		mgr.Add(reg["vectorize"](), passmgr.GatePostMem2RegOnly)
	}

	if plan.EnableSpecialize {
		mgr.Add(reg["specialize"](), passmgr.GatePostMem2RegOnly)
	}

	mgr.Add(markerPass{"mark-backend", mgr.MarkBackend}, passmgr.GateAny)
	for _, name := range plan.Backend {
		mgr.Add(reg[name](), passmgr.GatePostMem2RegOnly)
	}
}

// fixpointNames is the group spec.md §4.3 calls out as re-run to a
// fixpoint; expandFixpoint repeats the maximal contiguous span of names
// covering their first-to-last occurrence, so any non-fixpoint pass
// interleaved inside that span (e.g. DefaultPlan's range-aware-fold between
// regular-fold and gvn) is repeated along with it rather than hoisted out.
var fixpointNames = map[string]bool{
	"regular-fold": true, "dce": true, "gvn": true, "simplify-cfg": true,
}

func expandFixpoint(names []string, repeat int) []string {
	if repeat < 1 {
		repeat = 1
	}
	first, last := -1, -1
	for i, n := range names {
		if fixpointNames[n] {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return names
	}
	var out []string
	out = append(out, names[:first]...)
	for i := 0; i < repeat; i++ {
		out = append(out, names[first:last+1]...)
	}
	out = append(out, names[last+1:]...)
	return out
}

func registry(plan passmgr.Plan) map[string]func() passmgr.Pass {
	return map[string]func() passmgr.Pass{
		"move-alloca":      func() passmgr.Pass { return structured.MoveAlloca{} },
		"localize":         func() passmgr.Pass { return structured.Localize{} },
		"early-const-fold": func() passmgr.Pass { return structured.EarlyConstFold{} },
		"early-inline":     func() passmgr.Pass { return structured.EarlyInline{} },
		"remerge":          func() passmgr.Pass { return structured.Remerge{} },
		"raise-to-for":     func() passmgr.Pass { return structured.RaiseToFor{} },
		"view":             func() passmgr.Pass { return structured.View{} },
		"loop-dce":         func() passmgr.Pass { return structured.LoopDCE{} },
		"tidy-memory":      func() passmgr.Pass { return structured.TidyMemory{} },
		"parallelizable":   func() passmgr.Pass { return structured.Parallelizable{} },

		"mem2reg":            func() passmgr.Pass { return ssaopt.Mem2Reg{} },
		"tco":                func() passmgr.Pass { return ssaopt.TCO{} },
		"reassociate":        func() passmgr.Pass { return ssaopt.Reassociate{} },
		"regular-fold":       func() passmgr.Pass { return ssaopt.RegularFold{} },
		"range-aware-fold":   func() passmgr.Pass { return &ssaopt.RangeAwareFold{} },
		"gvn":                func() passmgr.Pass { return &ssaopt.GVN{} },
		"dce":                func() passmgr.Pass { return &ssaopt.DCE{} },
		"simplify-cfg":       func() passmgr.Pass { return ssaopt.SimplifyCFG{} },
		"dse":                func() passmgr.Pass { return &ssaopt.DSE{} },
		"dle":                func() passmgr.Pass { return &ssaopt.DLE{} },
		"dae":                func() passmgr.Pass { return &ssaopt.DAE{} },
		"select":             func() passmgr.Pass { return ssaopt.Select{} },
		"inline":             func() passmgr.Pass { return &ssaopt.Inline{Threshold: plan.InlineThreshold} },
		"late-inline":        func() passmgr.Pass { return &ssaopt.LateInline{Threshold: plan.InlineThreshold} },
		"aggressive-dce":     func() passmgr.Pass { return ssaopt.AggressiveDCE{} },
		"globalize":          func() passmgr.Pass { return ssaopt.Globalize{} },
		"inline-store":       func() passmgr.Pass { return &ssaopt.InlineStore{} },
		"synth-const-array":  func() passmgr.Pass { return ssaopt.SynthConstArray{} },
		"hoist-const-array":  func() passmgr.Pass { return &ssaopt.HoistConstArray{} },
		"specialize":         func() passmgr.Pass { return &ssaopt.Specialize{} },

		"canonicalize-loop": func() passmgr.Pass { return loopopt.CanonicalizeLoop{} },
		"loop-rotate":       func() passmgr.Pass { return loopopt.LoopRotate{} },
		"licm":              func() passmgr.Pass { return &loopopt.LICM{} },
		"const-loop-unroll": func() passmgr.Pass { return loopopt.ConstLoopUnroll{} },
		"remove-empty-loop": func() passmgr.Pass { return &loopopt.RemoveEmptyLoop{} },
		"vectorize":         func() passmgr.Pass { return loopopt.Vectorize{} },

		"gcm":           func() passmgr.Pass { return ssaopt.GCM{} },
		"inst-schedule": func() passmgr.Pass { return &ssaopt.InstSchedule{} },
	}
}

// --- standalone solver modes -----------------------------------------------

// runSAT implements --sat: parse a DIMACS-like file (spec.md §6), solve it,
// and print "sat"/"unsat" plus a satisfying assignment.
func runSAT(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "reading --sat input"))
		return 1
	}
	nvars, clauses, err := parseDIMACS(string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrSolverUnsupportedOp, "parsing DIMACS input"))
		return 1
	}
	s := sat.NewSolver(nvars)
	for _, cl := range clauses {
		s.AddClause(cl)
	}
	ok, model := s.Solve()
	if !ok {
		fmt.Println("unsat")
		return 0
	}
	fmt.Println("sat")
	var sb strings.Builder
	for i := 1; i <= nvars && i < len(model)+1; i++ {
		if i > 1 {
			sb.WriteByte(' ')
		}
		if i-1 < len(model) && model[i-1] {
			fmt.Fprintf(&sb, "%d", i)
		} else {
			fmt.Fprintf(&sb, "%d", -i)
		}
	}
	fmt.Println(sb.String())
	return 0
}

// parseDIMACS reads the optional comment lines, a lenient "p cnf V C"
// header, and one clause per line of signed integers terminated by 0.
func parseDIMACS(text string) (int, [][]sat.Literal, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	nvars := 0
	var clauses [][]sat.Literal
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "c") {
			continue
		}
		if strings.HasPrefix(line, "p") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				if v, err := strconv.Atoi(fields[2]); err == nil {
					nvars = v
				}
			}
			continue
		}
		var lits []sat.Literal
		for _, tok := range strings.Fields(line) {
			v, err := strconv.Atoi(tok)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid token %q", tok)
			}
			if v == 0 {
				break
			}
			if v > 0 {
				lits = append(lits, sat.Lit(v-1))
			} else {
				lits = append(lits, sat.NegLit(-v-1))
			}
			if -v > nvars || v > nvars {
				n := v
				if n < 0 {
					n = -n
				}
				nvars = n
			}
		}
		if len(lits) > 0 {
			clauses = append(clauses, lits)
		}
	}
	return nvars, clauses, scanner.Err()
}

// runBV implements --bv: a minimal textual bit-vector command format (not
// specified by spec.md, which only pins down --sat's DIMACS format) laid
// directly over internal/bitvector.Context's exposed operations —
//
//	var <name> <width>
//	const <name> <value> <width>
//	add|sub|mul <dst> <a> <b>
//	eq|ult|slt <dst> <a> <b>      (dst is a width-1 boolean bit-vector)
//	fix <name> <value>
//	assert-eq <a> <b>
//
// then solves and prints every named variable's value, or "unsat".
func runBV(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrInputUnreadable, "reading --bv input"))
		return 1
	}
	ctx := bitvector.NewContext()
	vars := map[string]bitvector.BitVec{}
	bools := map[string]sat.Literal{}
	order := []string{}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)
		switch f[0] {
		case "var":
			w, _ := strconv.Atoi(f[2])
			vars[f[1]] = ctx.NewVar(w)
			order = append(order, f[1])
		case "const":
			v, _ := strconv.ParseInt(f[2], 0, 64)
			w, _ := strconv.Atoi(f[3])
			vars[f[1]] = ctx.NewConst(v, w)
		case "add":
			sum, _ := ctx.Add(vars[f[2]], vars[f[3]])
			vars[f[1]] = sum
		case "sub":
			vars[f[1]] = ctx.Sub(vars[f[2]], vars[f[3]])
		case "mul":
			vars[f[1]] = ctx.Mul(vars[f[2]], vars[f[3]])
		case "eq":
			bools[f[1]] = ctx.Eq(vars[f[2]], vars[f[3]])
			order = append(order, f[1])
		case "ult":
			bools[f[1]] = ctx.ULt(vars[f[2]], vars[f[3]])
			order = append(order, f[1])
		case "slt":
			bools[f[1]] = ctx.SLt(vars[f[2]], vars[f[3]])
			order = append(order, f[1])
		case "fix":
			v, _ := strconv.ParseInt(f[2], 0, 64)
			ctx.Fix(vars[f[1]], v)
		case "assert-eq":
			ctx.AssertEqual(vars[f[1]], vars[f[2]])
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, diag.Wrap(err, diag.ErrSolverUnsupportedOp, "parsing --bv input"))
		return 1
	}

	ok, model := ctx.S.Solve()
	if !ok {
		fmt.Println("unsat")
		return 0
	}
	fmt.Println("sat")
	for _, name := range order {
		if bv, ok := vars[name]; ok {
			fmt.Printf("%s = %d\n", name, bitvector.Eval(bv, model))
			continue
		}
		fmt.Printf("%s = %v\n", name, litValue(bools[name], model))
	}
	return 0
}

// litValue resolves a single SAT literal's truth value against a solved
// model, honoring its sign bit the way Context's own gate primitives do.
func litValue(lit sat.Literal, model []bool) bool {
	v := lit.Var()
	if v < 0 || v >= len(model) {
		return false
	}
	val := model[v]
	if lit.Sign() {
		return !val
	}
	return val
}
