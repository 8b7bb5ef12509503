package structured

import "rvopt/internal/ir"

// View canonicalizes chains of constant-offset address arithmetic
// (spec.md §4.3) into a single base plus one folded constant offset, the
// same AddL shape arrayElemAddr already emits for a single array index, so
// later passes (HoistConstArray's matchArrayAddress, Alias's AddL
// propagation) see one normalized address expression per access instead of
// however many offset additions a nested index expression happened to
// produce.
type View struct{}

func (View) Name() string        { return "view" }
func (View) Description() string { return "canonicalizes nested address arithmetic into base+offset" }

func (View) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		for _, region := range allRegionsOf(m, fid) {
			if viewRegion(m, region) {
				changed = true
			}
		}
	}
	return changed
}

func viewRegion(m *ir.Module, region ir.RegionID) bool {
	blk := entryOf(m, region)
	if !blk.Valid() {
		return false
	}
	changed := false
	b := ir.NewBuilder(m)
	for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
		op := m.Op(opID)
		if op.Opcode != ir.OpAddL {
			continue
		}
		base, off, ok := foldOffsetChain(m, opID)
		if !ok || off == 0 {
			continue
		}
		if base == op.Operands[0] || base == op.Operands[1] {
			// Already in canonical one-level base+offset shape.
			continue
		}
		b.SetCursor(ir.Before(opID, blk))
		offConst := b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: off}})
		folded := b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{offConst, base}, nil)
		m.ReplaceAllUsesWith(opID, folded)
		eraseOperandsOf(m, opID)
		m.Erase(opID)
		changed = true
	}
	return changed
}

// foldOffsetChain walks a chain of AddL ops each adding a compile-time
// constant, collapsing it to a single non-constant base plus the summed
// constant offset. ok is false if the chain's leaves aren't exactly one
// non-constant base and any number of constants.
func foldOffsetChain(m *ir.Module, addr ir.OpID) (base ir.OpID, off int64, ok bool) {
	base = ir.InvalidOp
	var walk func(ir.OpID) bool
	walk = func(id ir.OpID) bool {
		op := m.Op(id)
		if op.Opcode == ir.OpIntConst {
			v, _ := op.Attrs.Int(ir.AttrInt)
			off += v
			return true
		}
		if op.Opcode != ir.OpAddL {
			if base.Valid() {
				return false // more than one non-constant leaf.
			}
			base = id
			return true
		}
		return walk(op.Operands[0]) && walk(op.Operands[1])
	}
	if !walk(addr) || !base.Valid() {
		return ir.InvalidOp, 0, false
	}
	return base, off, true
}
