package structured

import "rvopt/internal/ir"

// EarlyInline inlines callees called exactly once that do not call
// themselves directly (mutual recursion is not detected), while the CFG is
// still structured (spec.md §4.3/§4.8). Unlike
// LateInline (internal/ssaopt), there is no basic-block splitting to do:
// the callee's body ops are spliced in directly at the call site, the
// callee's GetArg ops are replaced by the caller's actual arguments, and
// each Return in the callee becomes a store to a fresh stack slot that the
// caller reloads immediately after (spec.md §4.8's pre-Mem2Reg mechanics;
// Mem2Reg, run after flattening, will promote that slot away like any
// other local).
type EarlyInline struct {
	Threshold int
}

func (EarlyInline) Name() string        { return "early-inline" }
func (EarlyInline) Description() string { return "inlines single-call-site, non-recursive callees before flattening" }

func (e EarlyInline) Apply(m *ir.Module) bool {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = 200
	}
	changed := false
	for {
		roundChanged := false
		calls := callSiteCounts(m)
		for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
			callee := m.Func(fid)
			if calls[fid] != 1 {
				continue
			}
			if isRecursive(m, fid) {
				continue
			}
			if opCount(m, fid) > threshold {
				continue
			}
			site := soleCallSite(m, fid)
			if !site.Valid() || m.Op(site).Block == ir.InvalidBlock {
				continue
			}
			if ir.GetParentFunc(m, m.Op(site).Block) == fid {
				continue // self-recursive guard belt-and-braces
			}
			inlineCallSite(m, site, fid)
			roundChanged = true
			_ = callee
			break // call-site set changed; recompute before continuing
		}
		if !roundChanged {
			break
		}
		changed = true
	}
	return changed
}

func callSiteCounts(m *ir.Module) map[ir.FuncID]int {
	counts := map[ir.FuncID]int{}
	for _, fid := range m.Functions {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall }) {
			name, _ := m.Op(opID).Attrs.Name(ir.AttrName)
			if callee := m.FuncByName(name); callee != nil {
				counts[callee.ID()]++
			}
		}
	}
	return counts
}

func soleCallSite(m *ir.Module, callee ir.FuncID) ir.OpID {
	name := m.Func(callee).Name
	for _, fid := range m.Functions {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall }) {
			n, _ := m.Op(opID).Attrs.Name(ir.AttrName)
			if n == name {
				return opID
			}
		}
	}
	return ir.InvalidOp
}

func isRecursive(m *ir.Module, fid ir.FuncID) bool {
	name := m.Func(fid).Name
	for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall }) {
		n, _ := m.Op(opID).Attrs.Name(ir.AttrName)
		if n == name {
			return true
		}
	}
	return false
}

func opCount(m *ir.Module, fid ir.FuncID) int {
	return len(ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true }))
}

// inlineCallSite splices callee's body into the caller at call's position.
func inlineCallSite(m *ir.Module, call ir.OpID, callee ir.FuncID) {
	b := ir.NewBuilder(m)
	fn := m.Func(callee)
	callOp := m.Op(call)
	block := callOp.Block

	resultSlot := ir.InvalidOp
	if fn.ReturnType != ir.TypeVoid {
		b.SetCursor(ir.Before(call, block))
		resultSlot = b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrSize: {Kind: ir.AttrSize, Size: 8},
		})
	}

	cloneMap := map[ir.OpID]ir.OpID{}
	b.SetCursor(ir.Before(call, block))
	cloneRegionInto(m, b, fn.Region, cloneMap, fn.Params, callOp.Operands, resultSlot)

	if resultSlot.Valid() {
		reload := b.Create(ir.OpLoad, fn.ReturnType, []ir.OpID{resultSlot}, ir.AttrMap{})
		m.ReplaceAllUsesWith(call, reload)
	}
	eraseOperandsOf(m, call)
	m.Erase(call)
}

// cloneRegionInto clones region's single block's ops into the builder's
// current cursor position, substituting GetArg with actualArgs and Return
// with a store to resultSlot (or dropping it entirely for a void callee).
func cloneRegionInto(m *ir.Module, b *ir.Builder, region ir.RegionID, cloneMap map[ir.OpID]ir.OpID, params []ir.Parameter, actualArgs []ir.OpID, resultSlot ir.OpID) {
	for _, opID := range structuredOpsOf(m, region) {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpGetArg:
			idx, _ := op.Attrs.Int(ir.AttrInt)
			if int(idx) < len(actualArgs) {
				cloneMap[opID] = actualArgs[idx]
			}
			continue
		case ir.OpReturn:
			if resultSlot.Valid() && len(op.Operands) == 1 {
				b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{resultSlot, remap(cloneMap, op.Operands[0])}, ir.AttrMap{})
			}
			continue
		}
		operands := make([]ir.OpID, len(op.Operands))
		for i, o := range op.Operands {
			operands[i] = remap(cloneMap, o)
		}
		newID := b.Create(op.Opcode, op.Type, operands, op.Attrs.Clone())
		if op.Opcode == ir.OpIf || op.Opcode == ir.OpWhile || op.Opcode == ir.OpFor {
			newRegions := make([]ir.RegionID, len(op.Regions))
			for i, r := range op.Regions {
				if !r.Valid() {
					continue
				}
				newRegions[i] = b.NewRegionFor(newID)
				nb := ir.NewBuilder(m)
				blk := b.NewBlockIn(newRegions[i], "")
				nb.SetCursor(ir.AtBlockEnd(blk))
				cloneRegionInto(m, nb, r, cloneMap, params, actualArgs, resultSlot)
			}
			m.Op(newID).Regions = newRegions
		}
		cloneMap[opID] = newID
	}
}

func remap(cloneMap map[ir.OpID]ir.OpID, id ir.OpID) ir.OpID {
	if !id.Valid() {
		return id
	}
	if mapped, ok := cloneMap[id]; ok {
		return mapped
	}
	return id
}
