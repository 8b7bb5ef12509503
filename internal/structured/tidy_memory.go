package structured

import "rvopt/internal/ir"

// TidyMemory forwards a just-stored value straight to an immediately
// following load of the same address, within a single straight-line block,
// before Mem2Reg and alias analysis exist to do this properly post-flatten
// (spec.md §4.3's cleanup passes "preparing for flattening"). It is
// intentionally conservative: it only looks at the same address Op (not
// must-alias sets, which need the Alias analysis this pre-flatten stage
// doesn't run) and it stops at the first intervening Store, Call or nested
// If/While/For.
type TidyMemory struct{}

func (TidyMemory) Name() string        { return "tidy-memory" }
func (TidyMemory) Description() string { return "forwards store-then-load pairs to the same address" }

func (TidyMemory) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		for _, region := range allRegionsOf(m, fid) {
			if tidyRegion(m, region) {
				changed = true
			}
		}
	}
	return changed
}

// allRegionsOf collects a function's top-level region plus every region
// nested under its structured ops, so TidyMemory reaches loop/if bodies.
func allRegionsOf(m *ir.Module, fid ir.FuncID) []ir.RegionID {
	top := m.Func(fid).Region
	out := []ir.RegionID{top}
	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return len(op.Regions) > 0 }) {
		for _, r := range m.Op(opID).Regions {
			if r.Valid() {
				out = append(out, r)
			}
		}
	}
	return out
}

func tidyRegion(m *ir.Module, region ir.RegionID) bool {
	blk := entryOf(m, region)
	if !blk.Valid() {
		return false
	}
	changed := false
	ops := append([]ir.OpID(nil), m.Block(blk).Ops...)
	var lastStoreAddr, lastStoreVal ir.OpID
	for _, opID := range ops {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpStore:
			lastStoreAddr, lastStoreVal = op.Operands[0], op.Operands[1]
		case ir.OpLoad:
			if lastStoreAddr.Valid() && op.Operands[0] == lastStoreAddr {
				m.ReplaceAllUsesWith(opID, lastStoreVal)
				eraseOperandsOf(m, opID)
				m.Erase(opID)
				changed = true
			}
		case ir.OpCall, ir.OpIf, ir.OpWhile, ir.OpFor:
			lastStoreAddr = ir.InvalidOp
		}
	}
	return changed
}
