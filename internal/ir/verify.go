package ir

import "fmt"

// VerifyError names the offending Op/pass so the pass manager can print a
// diagnostic and abort (spec.md §4.13/§7).
type VerifyError struct {
	Func    string
	Block   BlockID
	Op      OpID
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify: func %s block %d op %d: %s", e.Func, e.Block, e.Op, e.Message)
}

// Verify runs the post-Mem2Reg checks of spec.md §4.13 / Testable
// Properties 1-2 over every function in m. It is only meaningful once Phis
// exist (i.e. after Mem2Reg), matching the source's gating.
func Verify(m *Module) []error {
	var errs []error
	for _, fid := range m.Functions {
		fn := m.Func(fid)
		errs = append(errs, verifyFunc(m, fn)...)
	}
	return errs
}

func verifyFunc(m *Module, fn *Function) []error {
	var errs []error
	region := fn.Region
	RecomputePredsSuccs(m, region)
	dom := ComputeDominance(m, region)

	for _, bid := range m.Region(region).Blocks {
		blk := m.Block(bid)
		if !reachable(m, region, bid) {
			continue
		}
		for _, opID := range blk.Ops {
			op := m.Op(opID)
			if op.Opcode == OpPhi {
				if err := verifyPhi(m, fn, bid, opID); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			for _, operand := range op.Operands {
				if !operand.Valid() {
					continue
				}
				if !DominatesOp(m, dom, operand, bid, opID) {
					errs = append(errs, &VerifyError{
						Func: fn.Name, Block: bid, Op: opID,
						Message: fmt.Sprintf("operand %d does not dominate use", operand),
					})
				}
			}
		}
	}
	return errs
}

func verifyPhi(m *Module, fn *Function, bid BlockID, opID OpID) error {
	blk := m.Block(bid)
	op := m.Op(opID)
	preds := map[BlockID]bool{}
	for _, p := range blk.Preds {
		preds[p] = true
	}
	froms := PhiFroms(op)
	if len(op.Operands) != len(blk.Preds) {
		return &VerifyError{Func: fn.Name, Block: bid, Op: opID,
			Message: fmt.Sprintf("phi has %d operands but block has %d predecessors", len(op.Operands), len(blk.Preds))}
	}
	for from := range froms {
		if !preds[from] {
			return &VerifyError{Func: fn.Name, Block: bid, Op: opID,
				Message: fmt.Sprintf("phi FromAttr names block %d which is not a predecessor", from)}
		}
	}
	return nil
}

func reachable(m *Module, region RegionID, target BlockID) bool {
	entry := m.Region(region).Entry()
	visited := map[BlockID]bool{}
	var visit func(BlockID)
	found := false
	visit = func(b BlockID) {
		if visited[b] || found {
			return
		}
		visited[b] = true
		if b == target {
			found = true
			return
		}
		for _, s := range m.Block(b).Succs {
			visit(s)
		}
	}
	visit(entry)
	return found
}
