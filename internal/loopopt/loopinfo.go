// Package loopopt implements the loop machinery of spec.md §4.9: loop-forest
// construction over the dominator tree, canonicalization (pre-header,
// LCSSA), rotation, LICM, SCEV-driven simplification, empty-loop removal
// and constant unrolling, plus the ARM-only vectorization tag. spec.md has
// no original_source file dedicated to loop machinery (it is spread across
// the source's general cleanup passes); these are built directly from the
// spec's per-pass contract, the way DESIGN.md's grounding ledger records.
package loopopt

import "rvopt/internal/ir"

// Loop is one natural loop: Header dominates every block in Blocks, and at
// least one Latch has a back edge into Header.
type Loop struct {
	Header    ir.BlockID
	Latches   []ir.BlockID
	Blocks    map[ir.BlockID]bool
	Preheader ir.BlockID // InvalidBlock until CanonicalizeLoop runs
	Parent    *Loop
}

// Exits returns every block outside the loop that a loop block branches to.
func (l *Loop) Exits(m *ir.Module) []ir.BlockID {
	var out []ir.BlockID
	seen := map[ir.BlockID]bool{}
	for b := range l.Blocks {
		for _, s := range m.Block(b).Succs {
			if !l.Blocks[s] && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// BuildLoopForest finds every natural loop in region via back-edge
// detection over dom (Cooper-Harvey-Kennedy dominance, spec.md §4.1):
// an edge u->v is a back edge when v dominates u, and the loop headed by
// v is the set of blocks that reach u without passing through v.
func BuildLoopForest(m *ir.Module, region ir.RegionID, dom *ir.DomTree) []*Loop {
	byHeader := map[ir.BlockID]*Loop{}
	var headers []ir.BlockID
	for _, b := range m.Region(region).Blocks {
		blk := m.Block(b)
		for _, s := range blk.Succs {
			if dom.Dominates(s, b) {
				l, ok := byHeader[s]
				if !ok {
					l = &Loop{Header: s, Blocks: map[ir.BlockID]bool{s: true}}
					byHeader[s] = l
					headers = append(headers, s)
				}
				l.Latches = append(l.Latches, b)
				addLoopBody(m, l, b)
			}
		}
	}
	var loops []*Loop
	for _, h := range headers {
		loops = append(loops, byHeader[h])
	}
	return loops
}

// addLoopBody walks predecessors backward from latch until it reaches the
// header, adding every block it finds to the loop.
func addLoopBody(m *ir.Module, l *Loop, latch ir.BlockID) {
	if l.Blocks[latch] {
		return
	}
	worklist := []ir.BlockID{latch}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if l.Blocks[b] {
			continue
		}
		l.Blocks[b] = true
		for _, p := range m.Block(b).Preds {
			if !l.Blocks[p] {
				worklist = append(worklist, p)
			}
		}
	}
}
