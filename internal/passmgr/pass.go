// Package passmgr drives the ordered pass queue described in spec.md §4.15
// over the arena-based rvopt IR, with lifecycle gating, verify/print/stats
// hooks, and a differential-testing mode.
package passmgr

import "rvopt/internal/ir"

// Pass is one rewriting or analysis-application step. Apply reports whether
// it changed the module.
type Pass interface {
	Name() string
	Description() string
	Apply(m *ir.Module) bool
}

// Gate restricts which lifecycle phases a pass is legal to run in, since
// structured-only passes (e.g. RaiseToFor) and flat-CFG-only passes (e.g.
// Mem2Reg) must never be scheduled out of order.
type Gate int

const (
	GateAny Gate = iota
	GateStructuredOnly
	GateFlatOnly
	GatePostMem2RegOnly
)

// GatedPass pairs a Pass with the lifecycle phase it requires. Passes that
// don't care implement Pass alone and are wrapped with GateAny.
type GatedPass struct {
	Pass
	Gate Gate
}
