package ir

// PostDomTree is the post-dominator analogue of DomTree: computed over the
// reverse CFG from a synthetic virtual exit connected to every
// return-terminated block. No pass in this module calls
// ComputePostDominance.
type PostDomTree struct {
	idx  map[BlockID]int
	ipdom map[BlockID]BlockID
	kids  map[BlockID][]BlockID
}

// ComputePostDominance builds a PostDomTree for region.
func ComputePostDominance(m *Module, region RegionID) *PostDomTree {
	r := m.Region(region)
	var exits []BlockID
	for _, b := range r.Blocks {
		blk := m.Block(b)
		if len(blk.Succs) == 0 {
			exits = append(exits, b)
		}
	}
	// virtualExit ties every real exit block together so intersect has a
	// single common ancestor to converge on; without it, a function with
	// more than one return block gives each exit its own disjoint ipdom
	// root and the fixpoint below can walk forever.
	const virtualExit BlockID = -1
	order := append([]BlockID{virtualExit}, reversePostorderReverse(m, exits)...)
	idx := make(map[BlockID]int, len(order))
	for i, b := range order {
		idx[b] = i
	}
	isExit := map[BlockID]bool{virtualExit: true}
	for _, e := range exits {
		isExit[e] = true
	}

	ipdom := map[BlockID]BlockID{virtualExit: virtualExit}
	for _, e := range exits {
		ipdom[e] = virtualExit
	}
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if isExit[b] {
				continue
			}
			var newIdom BlockID = InvalidBlock
			for _, s := range m.Block(b).Succs {
				if _, ok := ipdom[s]; !ok {
					continue
				}
				if !newIdom.Valid() {
					newIdom = s
					continue
				}
				newIdom = intersect(ipdom, idx, newIdom, s)
			}
			if newIdom.Valid() && ipdom[b] != newIdom {
				ipdom[b] = newIdom
				changed = true
			}
		}
	}

	kids := map[BlockID][]BlockID{}
	for b, d := range ipdom {
		if !isExit[b] || d != b {
			kids[d] = append(kids[d], b)
		}
	}
	return &PostDomTree{idx: idx, ipdom: ipdom, kids: kids}
}

func reversePostorderReverse(m *Module, roots []BlockID) []BlockID {
	var post []BlockID
	visited := map[BlockID]bool{}
	var visit func(BlockID)
	visit = func(b BlockID) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, p := range m.Block(b).Preds {
			visit(p)
		}
		post = append(post, b)
	}
	for _, r := range roots {
		visit(r)
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// PostDominates reports whether a post-dominates b (reflexively): every
// path from b to an exit passes through a.
func (d *PostDomTree) PostDominates(a, b BlockID) bool {
	if _, ok := d.idx[a]; !ok {
		return false
	}
	seen := map[BlockID]bool{}
	for {
		if a == b {
			return true
		}
		if seen[b] {
			return false
		}
		seen[b] = true
		next, ok := d.ipdom[b]
		if !ok || next == b {
			return a == b
		}
		b = next
	}
}
