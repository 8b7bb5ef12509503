package ir

// BasicBlock is an ordered sequence of operations, terminated by exactly one
// terminator once the region is flat (spec.md §3). Predecessors/successors
// are structural and recomputed from terminator attributes after edits;
// dominance, post-dominance and liveness are analysis side tables (see
// dominance.go, postdom.go, liveness.go), not stored here, per spec.md §9's
// design note to keep dataflow results in the pass context.
type BasicBlock struct {
	id     BlockID
	Label  string
	Region RegionID
	Ops    []OpID

	Preds []BlockID
	Succs []BlockID
}

func (b *BasicBlock) ID() BlockID { return b.id }

// Terminator returns the block's terminator Op id, or InvalidOp if the
// block is currently empty or (transiently, mid-edit) un-terminated.
func (b *BasicBlock) Terminator() OpID {
	if len(b.Ops) == 0 {
		return InvalidOp
	}
	return b.Ops[len(b.Ops)-1]
}
