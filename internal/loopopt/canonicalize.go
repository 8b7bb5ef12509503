package loopopt

import "rvopt/internal/ir"

// CanonicalizeLoop ensures each loop has a dedicated pre-header (a single
// predecessor of the header outside the loop) and, when LCSSA is on,
// closes every value defined inside the loop and used outside it through a
// Phi placed in each exit block (spec.md §4.9). Later passes (LICM,
// ConstLoopUnroll) depend on the pre-header as their hoist/clone target and
// on LCSSA to avoid having to reason about loop-internal dominance when
// rewriting code downstream of the loop.
type CanonicalizeLoop struct {
	LCSSA bool
}

func (CanonicalizeLoop) Name() string { return "canonicalize-loop" }
func (CanonicalizeLoop) Description() string {
	return "inserts loop pre-headers and, if requested, LCSSA exit phis"
}

func (c CanonicalizeLoop) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		dom := ir.ComputeDominance(m, region)
		for _, loop := range BuildLoopForest(m, region, dom) {
			if ensurePreheader(m, region, loop) {
				changed = true
				ir.RecomputePredsSuccs(m, region)
				dom = ir.ComputeDominance(m, region)
			}
			if c.LCSSA && insertLCSSA(m, loop) {
				changed = true
			}
		}
	}
	return changed
}

// ensurePreheader inserts a new block between the loop header and its
// external predecessors when there is more than one, or when the single
// external predecessor also branches somewhere else conditionally (so it
// can't just be treated as the pre-header itself).
func ensurePreheader(m *ir.Module, region ir.RegionID, loop *Loop) bool {
	header := m.Block(loop.Header)
	var external []ir.BlockID
	for _, p := range header.Preds {
		if !loop.Blocks[p] {
			external = append(external, p)
		}
	}
	if len(external) == 1 && len(m.Block(external[0]).Succs) == 1 {
		loop.Preheader = external[0]
		return false
	}

	b := ir.NewBuilder(m)
	pre := b.NewBlockIn(region, "")
	b.SetCursor(ir.AtBlockEnd(pre))
	b.Create(ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: loop.Header}})
	for _, p := range external {
		retarget(m, p, loop.Header, pre)
	}
	loop.Preheader = pre
	return true
}

// retarget rewrites every Goto/Branch target of from naming oldTarget to
// newTarget instead.
func retarget(m *ir.Module, from, oldTarget, newTarget ir.BlockID) {
	term := m.Block(from).Terminator()
	if !term.Valid() {
		return
	}
	op := m.Op(term)
	if t, ok := op.Attrs.Block(ir.AttrTarget); ok && t == oldTarget {
		op.Attrs[ir.AttrTarget] = ir.Attr{Kind: ir.AttrTarget, Block: newTarget}
	}
	if e, ok := op.Attrs.Block(ir.AttrElse); ok && e == oldTarget {
		op.Attrs[ir.AttrElse] = ir.Attr{Kind: ir.AttrElse, Block: newTarget}
	}
}

// insertLCSSA places a single-operand Phi in the loop's exit block for
// every value defined inside the loop with a use outside it, then rewires
// those external uses to the Phi (spec.md's GLOSSARY "LCSSA" entry).
//
// This implementation handles the single-exit loops internal/flatten
// actually produces (each While/For lowers to exactly one exit block, with
// the header as that exit's sole predecessor) and is documented as
// requiring that shape rather than silently mishandling a multi-exit loop:
// a loop with more than one exit is left alone. Because the header is the
// exit's only predecessor, a loop-internal def that legally has a use
// outside the loop must itself already dominate the exit — which in this
// single-exit shape means it lives in the header (an induction-variable
// Phi or a header-resident pure computation); a value defined deeper in
// the body or latch can never dominate the exit and so could never have
// reached a valid external use before this pass runs.
func insertLCSSA(m *ir.Module, loop *Loop) bool {
	exits := loop.Exits(m)
	if len(exits) != 1 {
		return false
	}
	exit := exits[0]
	changed := false
	bld := ir.NewBuilder(m)
	for b := range loop.Blocks {
		for _, opID := range append([]ir.OpID(nil), m.Block(b).Ops...) {
			op := m.Op(opID)
			if !op.HasResult() {
				continue
			}
			var external []ir.Use
			for _, u := range op.Uses() {
				if !loop.Blocks[m.Op(u.User).Block] {
					external = append(external, u)
				}
			}
			if len(external) == 0 {
				continue
			}
			bld.SetCursor(ir.AtBlockStart(exit))
			phi := bld.Create(ir.OpPhi, op.Type, []ir.OpID{opID}, ir.AttrMap{})
			m.Op(phi).PhiFrom = []ir.BlockID{b}
			for _, u := range external {
				m.SetOperand(u.User, u.Index, phi)
			}
			changed = true
		}
	}
	return changed
}
