package structured

import "rvopt/internal/ir"

// MoveAlloca hoists every AllocaOp (wherever nested) to the entry block so
// later passes see a canonical prelude (spec.md §4.3). An alloca has no
// observable effect beyond handing back a fresh stack slot, so relocating
// it changes nothing but where later passes look for it.
type MoveAlloca struct{}

func (MoveAlloca) Name() string        { return "move-alloca" }
func (MoveAlloca) Description() string { return "hoists every alloca to the function entry block" }

func (MoveAlloca) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		if moveAllocaFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func moveAllocaFunc(m *ir.Module, fid ir.FuncID) bool {
	fn := m.Func(fid)
	entry := entryOf(m, fn.Region)
	if !entry.Valid() {
		return false
	}
	allocas := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpAlloca })
	changed := false
	b := ir.NewBuilder(m)
	// Walk in reverse so repeated MoveToCursor(AtBlockStart) calls keep the
	// moved allocas in their original relative order. Allocas already in
	// the entry's leading run stay put, so the moved ones end up ahead of
	// them.
	for i := len(allocas) - 1; i >= 0; i-- {
		opID := allocas[i]
		if m.Op(opID).Block == entry && isFirstRun(m, entry, opID, allocas) {
			continue
		}
		b.MoveToCursor(opID, ir.AtBlockStart(entry))
		changed = true
	}
	return changed
}

// isFirstRun reports whether opID already sits within the contiguous run
// of allocas at the very front of entry, so MoveAlloca is idempotent
// (spec.md §8 property 6's DCE idempotence bar applies equally here).
func isFirstRun(m *ir.Module, entry ir.BlockID, opID ir.OpID, allocas []ir.OpID) bool {
	want := map[ir.OpID]bool{}
	for _, a := range allocas {
		want[a] = true
	}
	blk := m.Block(entry)
	for _, id := range blk.Ops {
		if id == opID {
			return true
		}
		if !want[id] {
			return false
		}
	}
	return false
}
