package structured

import "rvopt/internal/ir"

// RaiseToFor recognizes a canonical counting While and raises it to a For
// (spec.md §4.3), so ConstLoopUnroll and SCEV (internal/loopopt) have a
// closed-form induction variable to work with instead of having to
// rediscover one from a general While.
//
// The recognized shape, matching this package's While/For conventions
// (structured.go):
//
//	While:
//	  cond region: single op `Lt(Load(alloca), bound)` (bound loop-invariant
//	  within the loop: it is not itself written to by the body).
//	  body region: arbitrary ops, ending with exactly
//	    Store(alloca, Add(Load(alloca), step))
//	  where step is an OpIntConst.
//
// The raised For keeps the body's ops minus that trailing increment (Flatten
// re-synthesizes the increment once per backedge), carries `alloca` and
// `bound` as its operands and `step`'s constant as its AttrInt.
type RaiseToFor struct{}

func (RaiseToFor) Name() string        { return "raise-to-for" }
func (RaiseToFor) Description() string { return "raises canonical counting while loops to for loops" }

func (RaiseToFor) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpWhile }) {
			if raiseOne(m, opID) {
				changed = true
			}
		}
	}
	return changed
}

func raiseOne(m *ir.Module, whileID ir.OpID) bool {
	op := m.Op(whileID)
	if op.Opcode != ir.OpWhile || len(op.Regions) != 2 {
		return false
	}
	condOps := structuredOpsOf(m, op.Regions[0])
	if len(condOps) != 1 {
		return false
	}
	cond := m.Op(condOps[0])
	if cond.Opcode != ir.OpLtI {
		return false
	}
	load := m.Op(cond.Operands[0])
	if load.Opcode != ir.OpLoad {
		return false
	}
	alloca := load.Operands[0]
	if m.Op(alloca).Opcode != ir.OpAlloca {
		return false
	}
	bound := cond.Operands[1]

	condOpID := condOps[0]
	loadOpID := cond.Operands[0]

	bodyOps := structuredOpsOf(m, op.Regions[1])
	if len(bodyOps) < 2 {
		return false
	}
	lastOpID := bodyOps[len(bodyOps)-1]
	last := m.Op(lastOpID)
	if last.Opcode != ir.OpStore || last.Operands[0] != alloca {
		return false
	}
	addOpID := last.Operands[1]
	add := m.Op(addOpID)
	if add.Opcode != ir.OpAddI {
		return false
	}
	// The increment must reload the induction variable itself, not some
	// other expression, or the rewrite would silently change semantics.
	incLoadOpID := add.Operands[0]
	incLoad := m.Op(incLoadOpID)
	if incLoad.Opcode != ir.OpLoad || incLoad.Operands[0] != alloca {
		return false
	}
	stepConst := m.Op(add.Operands[1])
	if stepConst.Opcode != ir.OpIntConst {
		return false
	}
	step, _ := stepConst.Attrs.Int(ir.AttrInt)
	if step == 0 {
		return false
	}

	b := ir.NewBuilder(m)
	forBody := b.NewRegionFor(ir.InvalidOp)
	forBlock := b.NewBlockIn(forBody, "for.body")
	b.SetCursor(ir.AtBlockEnd(forBlock))
	for _, bodyOp := range bodyOps[:len(bodyOps)-1] {
		b.MoveToCursor(bodyOp, ir.AtBlockEnd(forBlock))
	}

	// Drop the now-detached increment/condition ops before inserting the
	// replacement, so none of them linger as orphaned operands.
	eraseOperandsOf(m, lastOpID)
	m.Erase(lastOpID)
	eraseOperandsOf(m, addOpID)
	m.Erase(addOpID)
	eraseOperandsOf(m, incLoadOpID)
	m.Erase(incLoadOpID)
	eraseOperandsOf(m, condOpID)
	m.Erase(condOpID)
	eraseOperandsOf(m, loadOpID)
	m.Erase(loadOpID)

	block := op.Block
	b.SetCursor(ir.Before(whileID, block))
	forID := b.Create(ir.OpFor, ir.TypeVoid, []ir.OpID{alloca, bound}, ir.AttrMap{
		ir.AttrInt: {Kind: ir.AttrInt, Int: step},
	})
	m.Op(forID).Regions = []ir.RegionID{forBody}
	m.Region(forBody).OwnerOp = forID

	eraseOperandsOf(m, whileID)
	m.Op(whileID).Regions = nil
	m.Erase(whileID)
	return true
}
