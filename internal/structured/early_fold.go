package structured

import (
	"rvopt/internal/ir"
	"rvopt/internal/ssaopt"
)

// EarlyConstFold runs the same algebraic-simplification rule set as
// RegularFold (internal/ssaopt), scheduled before flattening so the
// constants it exposes can feed EarlyInline's call-count test and
// RaiseToFor's constant-step recognizer before the CFG is lowered
// (spec.md §4.3). ir.FindAll already walks nested structured regions
// depth-first, so the underlying rule set needs no structured-specific
// variant; this pass exists as its own name purely for pass-manager
// gating (GateStructuredOnly) and scheduling order.
type EarlyConstFold struct {
	inner ssaopt.RegularFold
}

func (EarlyConstFold) Name() string { return "early-const-fold" }
func (EarlyConstFold) Description() string {
	return "constant folds and algebraically simplifies arithmetic before flattening"
}

func (e EarlyConstFold) Apply(m *ir.Module) bool {
	return e.inner.Apply(m)
}
