package ir

// DomTree is the result of dominator computation over a flat region
// (spec.md §4.1): Cooper-Harvey-Kennedy's iterative algorithm, acceptable
// per the spec's contract. It is a pass-context side table, never stored on
// the IR (spec.md §9), and must be recomputed after any CFG edit.
type DomTree struct {
	order  []BlockID          // reverse postorder used to build it
	idx    map[BlockID]int    // block -> index in order
	idom   map[BlockID]BlockID
	kids   map[BlockID][]BlockID
	entry  BlockID
}

// ComputeDominance builds a DomTree for region. Preds/Succs must already be
// up to date (call RecomputePredsSuccs first if the CFG changed).
func ComputeDominance(m *Module, region RegionID) *DomTree {
	r := m.Region(region)
	if len(r.Blocks) == 0 {
		return &DomTree{idx: map[BlockID]int{}, idom: map[BlockID]BlockID{}, kids: map[BlockID][]BlockID{}}
	}
	entry := r.Entry()
	order := reversePostorder(m, entry)
	idx := make(map[BlockID]int, len(order))
	for i, b := range order {
		idx[b] = i
	}

	idom := map[BlockID]BlockID{entry: entry}
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == entry {
				continue
			}
			blk := m.Block(b)
			var newIdom BlockID = InvalidBlock
			for _, p := range blk.Preds {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !newIdom.Valid() {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, idx, newIdom, p)
			}
			if newIdom.Valid() && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	delete(idom, entry) // entry has no strict dominator; handled specially below
	idom[entry] = entry

	kids := map[BlockID][]BlockID{}
	for b, d := range idom {
		if b != entry {
			kids[d] = append(kids[d], b)
		}
	}
	return &DomTree{order: order, idx: idx, idom: idom, kids: kids, entry: entry}
}

func intersect(idom map[BlockID]BlockID, idx map[BlockID]int, a, b BlockID) BlockID {
	for a != b {
		for idx[a] > idx[b] {
			a = idom[a]
		}
		for idx[b] > idx[a] {
			b = idom[b]
		}
	}
	return a
}

func reversePostorder(m *Module, entry BlockID) []BlockID {
	var post []BlockID
	visited := map[BlockID]bool{}
	var visit func(BlockID)
	visit = func(b BlockID) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range m.Block(b).Succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(entry)
	// reverse
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Idom returns b's immediate dominator (b itself for the entry block).
func (d *DomTree) Idom(b BlockID) BlockID { return d.idom[b] }

// Children returns the blocks whose immediate dominator is b.
func (d *DomTree) Children(b BlockID) []BlockID { return d.kids[b] }

// Preorder returns the blocks in dominator-tree preorder, rooted at entry.
func (d *DomTree) Preorder() []BlockID {
	var out []BlockID
	var visit func(BlockID)
	visit = func(b BlockID) {
		out = append(out, b)
		for _, c := range d.kids[b] {
			visit(c)
		}
	}
	if d.entry.Valid() {
		visit(d.entry)
	}
	return out
}

// Dominates reports whether a dominates b (reflexively).
func (d *DomTree) Dominates(a, b BlockID) bool {
	if _, ok := d.idx[a]; !ok {
		return false
	}
	for {
		if a == b {
			return true
		}
		if b == d.entry {
			return a == d.entry
		}
		next := d.idom[b]
		if next == b {
			return false
		}
		b = next
	}
}

// DominatesOp reports whether defOp's defining block dominates useBlock, or
// (when the use is in the same block) that defOp appears before the use
// point in program order — the operand-dominance check of spec.md §4.13/§8.
func DominatesOp(m *Module, d *DomTree, defOp OpID, useBlock BlockID, useOp OpID) bool {
	defBlock := m.Op(defOp).Block
	if defBlock == useBlock {
		blk := m.Block(defBlock)
		defPos, usePos := -1, -1
		for i, id := range blk.Ops {
			if id == defOp {
				defPos = i
			}
			if id == useOp {
				usePos = i
			}
		}
		return defPos >= 0 && usePos >= 0 && defPos < usePos
	}
	return d.Dominates(defBlock, useBlock)
}

// DominanceFrontier computes the iterated-dominance-frontier-ready raw DF
// sets (Cytron et al.), used by Mem2Reg phi placement.
func DominanceFrontier(m *Module, region RegionID, d *DomTree) map[BlockID][]BlockID {
	df := map[BlockID][]BlockID{}
	r := m.Region(region)
	for _, b := range r.Blocks {
		blk := m.Block(b)
		if len(blk.Preds) < 2 {
			continue
		}
		for _, p := range blk.Preds {
			runner := p
			for runner.Valid() && runner != d.Idom(b) {
				df[runner] = appendUnique(df[runner], b)
				if runner == d.Idom(runner) {
					break
				}
				runner = d.Idom(runner)
			}
		}
	}
	return df
}

func appendUnique(list []BlockID, b BlockID) []BlockID {
	for _, x := range list {
		if x == b {
			return list
		}
	}
	return append(list, b)
}
