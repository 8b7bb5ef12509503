package ir

// FindAll returns every Op in region (and any nested regions, depth-first)
// for which pred is true (spec.md §4.1 `findAll<Kind>()`).
func FindAll(m *Module, region RegionID, pred func(*Op) bool) []OpID {
	var out []OpID
	var walkRegion func(RegionID)
	walkRegion = func(rid RegionID) {
		r := m.Region(rid)
		for _, bid := range r.Blocks {
			blk := m.Block(bid)
			for _, opID := range blk.Ops {
				op := m.Op(opID)
				if pred(op) {
					out = append(out, opID)
				}
				for _, nested := range op.Regions {
					if nested.Valid() {
						walkRegion(nested)
					}
				}
			}
		}
	}
	walkRegion(region)
	return out
}

// FindAllInFunc is FindAll scoped to a function's top-level region.
func FindAllInFunc(m *Module, fn FuncID, pred func(*Op) bool) []OpID {
	return FindAll(m, m.Func(fn).Region, pred)
}

// FindAllOpcode finds every op of the given opcode.
func FindAllOpcode(m *Module, region RegionID, opcode Opcode) []OpID {
	return FindAll(m, region, func(op *Op) bool { return op.Opcode == opcode })
}

// GetParentFunc walks up from a block to the Function that (transitively)
// owns its region.
func GetParentFunc(m *Module, block BlockID) FuncID {
	region := m.Block(block).Region
	for {
		r := m.Region(region)
		if r.OwnerFunc.Valid() {
			return r.OwnerFunc
		}
		if !r.OwnerOp.Valid() {
			return InvalidFunc
		}
		region = m.Block(m.Op(r.OwnerOp).Block).Region
	}
}

// GetParentOp returns the nearest enclosing structured Op of the given
// opcode that (transitively) owns block's region, or InvalidOp.
func GetParentOp(m *Module, block BlockID, opcode Opcode) OpID {
	region := m.Block(block).Region
	for {
		r := m.Region(region)
		if !r.OwnerOp.Valid() {
			return InvalidOp
		}
		owner := m.Op(r.OwnerOp)
		if owner.Opcode == opcode {
			return r.OwnerOp
		}
		if !owner.Block.Valid() {
			return InvalidOp
		}
		region = m.Block(owner.Block).Region
	}
}

// NextOp returns the op immediately following op in its block, or
// InvalidOp if op is the last (or not found).
func NextOp(m *Module, opID OpID) OpID {
	op := m.Op(opID)
	if !op.Block.Valid() {
		return InvalidOp
	}
	blk := m.Block(op.Block)
	for i, id := range blk.Ops {
		if id == opID {
			if i+1 < len(blk.Ops) {
				return blk.Ops[i+1]
			}
			return InvalidOp
		}
	}
	return InvalidOp
}

// AllBlocksInFunc lists every block belonging to fn's top-level region
// (excludes blocks nested inside structured ops still present pre-flatten).
func AllBlocksInFunc(m *Module, fn FuncID) []BlockID {
	return append([]BlockID(nil), m.Region(m.Func(fn).Region).Blocks...)
}
