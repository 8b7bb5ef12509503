package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// GCM (Global Code Motion) schedules every pure Op to the block that
// minimizes loop nesting depth, subject to dominating every use (spec.md
// §4.10). Impure Ops, Phis and terminators stay pinned where they are.
// Grounded on original_source/src/opt/Passes.h's GCM class declaration
// (scheduleEarly/scheduleLate/lca over a DomTree, loop-forest depth) — the
// source ships no GCM.cpp, so the body follows the classical Click
// schedule-early/schedule-late algorithm the header's member names name,
// adapted to the arena's OpID/BlockID and this package's DomTree.
type GCM struct{}

func (GCM) Name() string        { return "gcm" }
func (GCM) Description() string { return "schedules pure ops to minimize loop nesting depth" }

func (GCM) Apply(m *ir.Module) bool {
	purity := analysis.ComputePurity(m)
	changed := false
	for _, fid := range m.Functions {
		if gcmFunc(m, fid, purity) {
			changed = true
		}
	}
	return changed
}

type gcmState struct {
	m         *ir.Module
	fid       ir.FuncID
	purity    analysis.Purity
	dom       *ir.DomTree
	entry     ir.BlockID
	depth     map[ir.BlockID]int
	loopDepth map[ir.BlockID]int
	movable   map[ir.OpID]bool // pure, non-phi, non-terminator, non-alloca
	earlyB    map[ir.OpID]ir.BlockID
	lateB     map[ir.OpID]ir.BlockID
	visitedE  map[ir.OpID]bool
	visitedL  map[ir.OpID]bool
}

func gcmFunc(m *ir.Module, fid ir.FuncID, purity analysis.Purity) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	dom := ir.ComputeDominance(m, region)
	depth := domDepths(dom)
	loopDepth := naturalLoopDepths(m, region)

	entry := ir.InvalidBlock
	if len(m.Region(region).Blocks) > 0 {
		entry = m.Region(region).Entry()
	}
	s := &gcmState{
		m: m, fid: fid, purity: purity, dom: dom, entry: entry, depth: depth, loopDepth: loopDepth,
		movable:  map[ir.OpID]bool{},
		earlyB:   map[ir.OpID]ir.BlockID{},
		lateB:    map[ir.OpID]ir.BlockID{},
		visitedE: map[ir.OpID]bool{},
		visitedL: map[ir.OpID]bool{},
	}

	allOps := ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true })
	for _, opID := range allOps {
		op := m.Op(opID)
		if op.Opcode == ir.OpPhi || op.IsTerminator() || op.Opcode == ir.OpAlloca || op.Opcode == ir.OpGetArg {
			continue
		}
		if analysis.IsOpPure(m, purity, op) {
			s.movable[opID] = true
		}
	}

	for opID := range s.movable {
		s.scheduleEarly(opID)
	}
	for opID := range s.movable {
		s.scheduleLate(opID)
	}

	changed := false
	b := ir.NewBuilder(m)
	for opID := range s.movable {
		target := s.lateB[opID]
		if !target.Valid() {
			target = s.earlyB[opID]
		}
		if !target.Valid() || target == m.Op(opID).Block {
			continue
		}
		dest := m.Block(target)
		anchor := dest.Terminator()
		if anchor.Valid() {
			b.MoveToCursor(opID, ir.Before(anchor, target))
		} else {
			b.MoveToCursor(opID, ir.AtBlockEnd(target))
		}
		changed = true
	}
	return changed
}

// scheduleEarly places op as high (shallow) in the dominator tree as its
// operands allow: the entry block, pushed down to the deepest operand's
// placement.
func (s *gcmState) scheduleEarly(opID ir.OpID) ir.BlockID {
	if b, ok := s.earlyB[opID]; ok {
		return b
	}
	if s.visitedE[opID] {
		return s.m.Op(opID).Block // cycle guard, shouldn't happen in SSA
	}
	s.visitedE[opID] = true
	op := s.m.Op(opID)
	place := s.entry
	for _, operand := range op.Operands {
		if !operand.Valid() {
			continue
		}
		var opBlock ir.BlockID
		if s.movable[operand] {
			opBlock = s.scheduleEarly(operand)
		} else {
			opBlock = s.m.Op(operand).Block
		}
		if !opBlock.Valid() {
			continue
		}
		if s.depth[opBlock] > s.depth[place] {
			place = opBlock
		}
	}
	s.earlyB[opID] = place
	return place
}

// scheduleLate places op as low as possible without sinking below any use,
// then walks from the LCA of its uses up toward its early placement,
// picking the block with the least loop nesting depth along the way.
func (s *gcmState) scheduleLate(opID ir.OpID) ir.BlockID {
	if b, ok := s.lateB[opID]; ok {
		return b
	}
	if s.visitedL[opID] {
		return s.earlyB[opID]
	}
	s.visitedL[opID] = true
	op := s.m.Op(opID)

	var lca ir.BlockID
	for _, use := range op.Uses() {
		user := s.m.Op(use.User)
		var useBlock ir.BlockID
		if user.Opcode == ir.OpPhi {
			useBlock = user.PhiFrom[use.Index]
		} else if s.movable[use.User] {
			useBlock = s.scheduleLate(use.User)
		} else {
			useBlock = user.Block
		}
		if !useBlock.Valid() {
			continue
		}
		if !lca.Valid() {
			lca = useBlock
		} else {
			lca = s.lcaBlock(lca, useBlock)
		}
	}

	early := s.earlyB[opID]
	if !lca.Valid() {
		s.lateB[opID] = early
		return early
	}

	// Walk the dominator-tree path from lca up to early (inclusive),
	// picking the block with the lowest loop nesting depth.
	best := lca
	runner := lca
	for {
		if s.loopDepth[runner] < s.loopDepth[best] {
			best = runner
		}
		if runner == early {
			break
		}
		next := s.dom.Idom(runner)
		if next == runner {
			break // reached the tree root without passing through early
		}
		runner = next
	}
	s.lateB[opID] = best
	return best
}

func (s *gcmState) lcaBlock(a, b ir.BlockID) ir.BlockID {
	for s.depth[a] > s.depth[b] {
		a = s.dom.Idom(a)
	}
	for s.depth[b] > s.depth[a] {
		b = s.dom.Idom(b)
	}
	for a != b {
		a = s.dom.Idom(a)
		b = s.dom.Idom(b)
	}
	return a
}

func domDepths(dom *ir.DomTree) map[ir.BlockID]int {
	depth := map[ir.BlockID]int{}
	var visit func(ir.BlockID, int)
	visit = func(b ir.BlockID, d int) {
		depth[b] = d
		for _, c := range dom.Children(b) {
			visit(c, d+1)
		}
	}
	pre := dom.Preorder()
	if len(pre) > 0 {
		visit(pre[0], 0)
	}
	return depth
}

// naturalLoopDepths counts, for each block, how many natural loops (found
// via dominator-based back edges target<-source where target dominates
// source) contain it — a nesting-depth heuristic sufficient for GCM's
// "prefer the block with lower loop depth" rule without a full loop forest.
func naturalLoopDepths(m *ir.Module, region ir.RegionID) map[ir.BlockID]int {
	r := m.Region(region)
	dom := ir.ComputeDominance(m, region)
	loopDepth := map[ir.BlockID]int{}
	for _, b := range r.Blocks {
		loopDepth[b] = 0
	}
	for _, b := range r.Blocks {
		blk := m.Block(b)
		for _, succ := range blk.Succs {
			if dom.Dominates(succ, b) {
				for _, member := range naturalLoopBody(m, succ, b) {
					loopDepth[member]++
				}
			}
		}
	}
	return loopDepth
}

// naturalLoopBody returns the blocks of the natural loop with header head
// and back-edge source latch, found by walking Preds backward from latch
// until head is reached (standard natural-loop construction).
func naturalLoopBody(m *ir.Module, head, latch ir.BlockID) []ir.BlockID {
	body := map[ir.BlockID]bool{head: true, latch: true}
	var worklist []ir.BlockID
	if latch != head {
		worklist = append(worklist, latch)
	}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, p := range m.Block(b).Preds {
			if !body[p] {
				body[p] = true
				worklist = append(worklist, p)
			}
		}
	}
	out := make([]ir.BlockID, 0, len(body))
	for b := range body {
		out = append(out, b)
	}
	return out
}
