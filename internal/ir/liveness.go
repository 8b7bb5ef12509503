package ir

// Liveness is the classical backward-dataflow result over the flattened
// CFG (spec.md §4.1): per-block live-in/live-out sets of Op ids, computed
// from operand/use edges. InstSchedule reads LiveIn to skip operands
// defined outside a block when it counts dependencies.
type Liveness struct {
	LiveIn  map[BlockID]map[OpID]bool
	LiveOut map[BlockID]map[OpID]bool
}

// ComputeLiveness runs the fixed-point backward dataflow over region.
func ComputeLiveness(m *Module, region RegionID) *Liveness {
	r := m.Region(region)
	live := &Liveness{LiveIn: map[BlockID]map[OpID]bool{}, LiveOut: map[BlockID]map[OpID]bool{}}
	for _, b := range r.Blocks {
		live.LiveIn[b] = map[OpID]bool{}
		live.LiveOut[b] = map[OpID]bool{}
	}

	changed := true
	for changed {
		changed = false
		for i := len(r.Blocks) - 1; i >= 0; i-- {
			b := r.Blocks[i]
			blk := m.Block(b)

			out := map[OpID]bool{}
			for _, s := range blk.Succs {
				for v := range live.LiveIn[s] {
					out[v] = true
				}
			}

			in := map[OpID]bool{}
			for v := range out {
				in[v] = true
			}
			for j := len(blk.Ops) - 1; j >= 0; j-- {
				opID := blk.Ops[j]
				op := m.Op(opID)
				delete(in, opID)
				for k, operand := range op.Operands {
					if !operand.Valid() {
						continue
					}
					if op.Opcode == OpPhi {
						// phi operands are only live-in along the
						// corresponding predecessor edge; approximate
						// conservatively as live-in to the block.
						_ = k
					}
					in[operand] = true
				}
			}

			if !setEqual(live.LiveOut[b], out) {
				live.LiveOut[b] = out
				changed = true
			}
			if !setEqual(live.LiveIn[b], in) {
				live.LiveIn[b] = in
				changed = true
			}
		}
	}
	return live
}

func setEqual(a, b map[OpID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
