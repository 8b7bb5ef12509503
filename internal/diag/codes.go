// Package diag implements the error taxonomy of spec.md §7: user-input
// errors, IR invariant violations, differential-test failures, and solver
// failures, each with a stable string code.
package diag

// Error code ranges:
// E1xxx: IR / verify invariant violations (programmer errors in the
//        optimizer itself, not recoverable — spec.md §7).
// E2xxx: user-input / CLI errors (missing file, conflicting flags).
// E3xxx: differential-test failures (output / exit-code mismatch).
// E4xxx: solver failures (SAT/bit-vector).
const (
	ErrVerifyDominance   = "E1001"
	// ErrVerifyPhiShape is not emitted: the pass manager reports every
	// Verify failure, Phi-shape ones included, as ErrVerifyDominance.
	ErrVerifyPhiShape    = "E1002"

	ErrInputUnreadable   = "E2001"
	ErrMultipleInputs    = "E2002"
	ErrConflictingTarget = "E2003"
	ErrParse             = "E2004"
	ErrLower             = "E2005"

	ErrDiffOutputMismatch   = "E3001"
	ErrDiffExitCodeMismatch = "E3002"

	ErrSolverUnsupportedOp = "E4001"
)
