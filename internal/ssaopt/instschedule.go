package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// InstSchedule performs within-block list scheduling to improve the
// instruction-level parallelism a downstream in-order backend can extract:
// it adds load/store dependence edges for aliasing memory ops, then
// repeatedly pops the readiest op with the best heuristic "goodness" score
// and appends it, finally restoring loads/stores to their original operand
// shape (spec.md §4.11). Grounded directly on
// original_source/src/opt/InstSchedule.cpp's runImpl: the pinned-op bailout
// (impure call/Clone/Join/Wake), the may-alias dependence edges temporarily
// pushed onto loads/stores, the constant/phi-operand delay scores, the
// wait-for-load penalty, the emit-loads-early bonus and the
// live-range-shortening bonus all mirror the source's goodness() function.
type InstSchedule struct {
	Alias AliasProvider
}

func (InstSchedule) Name() string        { return "inst-schedule" }
func (InstSchedule) Description() string { return "list-schedules each block to improve ILP" }

func (is *InstSchedule) Apply(m *ir.Module) bool {
	if is.Alias == nil {
		is.Alias = AliasProvider(analysis.ComputeAlias(m))
	}
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		live := ir.ComputeLiveness(m, region)
		for _, bid := range ir.AllBlocksInFunc(m, fid) {
			if scheduleBlock(m, bid, is.Alias, live) {
				changed = true
			}
		}
	}
	return changed
}

func scheduleBlock(m *ir.Module, bid ir.BlockID, alias AliasProvider, live *ir.Liveness) bool {
	blk := m.Block(bid)
	if len(blk.Ops) == 0 {
		return false
	}
	if m.Op(blk.Ops[0]).Opcode == ir.OpAlloca {
		return false // local-array init order is load-bearing for locality
	}
	for _, opID := range blk.Ops {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpClone, ir.OpJoin, ir.OpWake:
			return false
		case ir.OpCall:
			name, _ := op.Attrs.Name(ir.AttrName)
			if callee := m.FuncByName(name); callee == nil || callee.IsImpure() {
				return false
			}
		}
	}

	term := blk.Terminator()
	if !term.Valid() {
		return false
	}

	// Add load/store dependence edges (temporarily, via extra operands on
	// the load/store itself) so the topological scheduler respects memory
	// ordering between aliasing accesses.
	var stores, loads []ir.OpID
	origOperands := map[ir.OpID][]ir.OpID{}
	for _, opID := range blk.Ops {
		op := m.Op(opID)
		if op.Opcode == ir.OpLoad {
			origOperands[opID] = append([]ir.OpID(nil), op.Operands...)
			addr := op.Operands[0]
			for _, store := range stores {
				if mayAliasAddr(alias, addr, m.Op(store).Operands[0]) {
					m.AppendOperand(opID, store)
				}
			}
			loads = append(loads, opID)
		}
		if op.Opcode == ir.OpStore {
			origOperands[opID] = append([]ir.OpID(nil), op.Operands...)
			addr := op.Operands[0]
			for _, store := range stores {
				if mayAliasAddr(alias, addr, m.Op(store).Operands[0]) {
					m.AppendOperand(opID, store)
				}
			}
			for _, load := range loads {
				if mayAliasAddr(alias, addr, m.Op(load).Operands[0]) {
					m.AppendOperand(opID, load)
				}
			}
			stores = append(stores, opID)
		}
	}

	phiOperands := map[ir.OpID]bool{}
	for _, opID := range blk.Ops {
		if m.Op(opID).Opcode != ir.OpPhi {
			continue
		}
		for _, operand := range m.Op(opID).Operands {
			phiOperands[operand] = true
		}
	}

	liveIn := live.LiveIn[bid]
	degree := map[ir.OpID]int{}
	allowed := map[ir.OpID]bool{}
	for _, opID := range blk.Ops {
		op := m.Op(opID)
		if opID == term || op.Opcode == ir.OpPhi {
			continue
		}
		allowed[opID] = true
		for _, operand := range op.Operands {
			if operand.Valid() && !liveIn[operand] {
				degree[opID]++
			}
		}
	}

	time := map[ir.OpID]int{}
	index := 0
	var ready []ir.OpID
	for _, opID := range blk.Ops {
		if allowed[opID] && degree[opID] == 0 {
			ready = append(ready, opID)
		}
	}

	goodness := func(opID ir.OpID) int {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpIntConst, ir.OpFloatConst, ir.OpGetGlobal:
			return -3000
		}
		if phiOperands[opID] {
			return -5000
		}
		result := 0
		limit := len(op.Operands)
		if op.Opcode == ir.OpLoad {
			limit = 1
		} else if op.Opcode == ir.OpStore {
			limit = 2
		}
		for i := 0; i < limit && i < len(op.Operands); i++ {
			def := op.Operands[i]
			if !def.Valid() {
				continue
			}
			if t, ok := time[def]; ok && m.Op(def).Opcode == ir.OpLoad && index-t <= 2 {
				result--
			}
		}
		if result < 0 {
			return result
		}
		if op.Opcode == ir.OpLoad {
			result += 8
		}
		for _, operand := range op.Operands {
			if !operand.Valid() {
				continue
			}
			if t, ok := time[operand]; ok {
				if d := (index - t) / 3; d > result {
					result = d
				}
			}
		}
		return result
	}

	var order []ir.OpID
	for len(ready) > 0 {
		bestIdx, best := 0, goodness(ready[0])
		for i := 1; i < len(ready); i++ {
			if g := goodness(ready[i]); g > best {
				best, bestIdx = g, i
			}
		}
		opID := ready[bestIdx]
		ready = append(ready[:bestIdx], ready[bestIdx+1:]...)

		order = append(order, opID)
		time[opID] = index
		index++

		for _, use := range m.Op(opID).Uses() {
			if !allowed[use.User] {
				continue
			}
			degree[use.User]--
			if degree[use.User] == 0 {
				ready = append(ready, use.User)
			}
		}
	}

	// Restore original load/store operand shape before committing order.
	for opID, operands := range origOperands {
		op := m.Op(opID)
		for i := range op.Operands {
			m.SetOperand(opID, i, ir.InvalidOp)
		}
		op.Operands = nil
		for _, v := range operands {
			m.AppendOperand(opID, v)
		}
	}

	if len(order) != len(allowed) {
		return false // dependence cycle through restored memory edges; leave order untouched
	}

	origOrder := make([]ir.OpID, 0, len(order))
	for _, opID := range blk.Ops {
		if allowed[opID] {
			origOrder = append(origOrder, opID)
		}
	}
	sameOrder := len(origOrder) == len(order)
	if sameOrder {
		for i, opID := range origOrder {
			if opID != order[i] {
				sameOrder = false
				break
			}
		}
	}
	if sameOrder {
		return false
	}

	b := ir.NewBuilder(m)
	for _, opID := range order {
		b.MoveToCursor(opID, ir.Before(term, bid))
	}
	return true
}

func mayAliasAddr(alias AliasProvider, a, b ir.OpID) bool {
	sa, ok1 := alias[a]
	sb, ok2 := alias[b]
	if !ok1 || !ok2 || !sa.Known || !sb.Known {
		return true
	}
	for base, offs := range sa.Offsets {
		bOffs, ok := sb.Offsets[base]
		if !ok {
			continue
		}
		for o := range offs {
			if o == -1 || bOffs[o] {
				return true
			}
		}
		for o := range bOffs {
			if o == -1 {
				return true
			}
		}
	}
	return false
}
