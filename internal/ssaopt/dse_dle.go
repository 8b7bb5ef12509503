package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// DSE (dead-store elimination) scans each block on its own, tracking the
// last unread Store per address value. A may-aliasing Load marks that
// store "read"; a later Store to the same or a must-aliasing address kills
// the earlier unread store outright; a Call, Clone, Join or Wake marks read
// every tracked store whose address is one of its operands or is a
// GetGlobal. A store to a Global is never killed regardless of subsequent
// must-aliasing writes (spec.md §8's "storing to a global is never
// eliminated" scenario), matching original_source/src/opt/DSE.cpp's
// `base->getParentOp() != funcOp → canElim=false` exclusion. Nothing is
// tracked across block boundaries, and a store still unread at the end of
// its block is kept. Grounded on original_source/src/opt/DSE.cpp.
type DSE struct {
	Alias AliasQuery
}

// AliasQuery is the subset of internal/analysis's alias predicates DSE/DLE
// need; kept as an interface so these passes don't hard-code a result type
// and can be re-run against freshly recomputed alias info per function.
type AliasQuery interface {
	Must(a, b ir.OpID) bool
	Never(a, b ir.OpID) bool
	IsGlobal(a ir.OpID) bool
}

func (d DSE) Name() string        { return "dse" }
func (d DSE) Description() string { return "removes stores with no intervening read before the next write" }

func (d *DSE) Apply(m *ir.Module) bool {
	if d.Alias == nil {
		d.Alias = newAliasQuery(m)
	}
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if dseFunc(m, fid, d.Alias) {
			changed = true
		}
	}
	return changed
}

func dseFunc(m *ir.Module, fid ir.FuncID, aq AliasQuery) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)

	// last[base-identity] = most recent unread Store op to that exact
	// address value (conservative: only tracks exact-operand-match chains,
	// which covers the common "store twice to the same alloca slot"
	// pattern spec.md's end-to-end scenario exercises; must-alias across
	// distinct address computations is handled by the aq.Must check).
	changed := false
	for _, blk := range ir.AllBlocksInFunc(m, fid) {
		last := map[ir.OpID]ir.OpID{} // address value -> last store op
		for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
			op := m.Op(opID)
			switch op.Opcode {
			case ir.OpLoad:
				addr := op.Operands[0]
				for storedAddr, storeOp := range last {
					if storedAddr == addr || !aq.Never(storedAddr, addr) {
						delete(last, storedAddr)
						_ = storeOp
					}
				}
			case ir.OpStore:
				addr := op.Operands[0]
				if prior, ok := last[addr]; ok {
					if !aq.IsGlobal(addr) {
						eraseOperandsOf(m, prior)
						m.Erase(prior)
						changed = true
					}
				} else {
					for storedAddr, priorOp := range last {
						if aq.Must(storedAddr, addr) && !aq.IsGlobal(storedAddr) {
							eraseOperandsOf(m, priorOp)
							m.Erase(priorOp)
							delete(last, storedAddr)
							changed = true
						}
					}
				}
				last[addr] = opID
			case ir.OpCall, ir.OpClone, ir.OpJoin, ir.OpWake:
				for storedAddr, storeOp := range last {
					if escapesToCall(m, op, storedAddr) {
						delete(last, storedAddr)
						_ = storeOp
					}
				}
			}
		}
	}
	return changed
}

func escapesToCall(m *ir.Module, call *ir.Op, addr ir.OpID) bool {
	for _, arg := range call.Operands {
		if arg == addr {
			return true
		}
	}
	return m.Op(addr).Opcode == ir.OpGetGlobal
}

// DLE (dead-load elimination) forwards a store's value to a subsequent
// must-aliasing load, and removes a load whose value an earlier must-
// aliasing load already produced, as long as no intervening may-aliasing
// store or clobbering call exists (spec.md §4.7). Grounded on
// original_source/src/opt/DLE.cpp.
type DLE struct {
	Alias AliasQuery
}

func (d DLE) Name() string        { return "dle" }
func (d DLE) Description() string { return "forwards stored values to loads, removes redundant reloads" }

func (d *DLE) Apply(m *ir.Module) bool {
	if d.Alias == nil {
		d.Alias = newAliasQuery(m)
	}
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		if dleFunc(m, fid, d.Alias) {
			changed = true
		}
	}
	return changed
}

func dleFunc(m *ir.Module, fid ir.FuncID, aq AliasQuery) bool {
	changed := false
	for _, blk := range ir.AllBlocksInFunc(m, fid) {
		avail := map[ir.OpID]ir.OpID{} // address -> available value (from Store or Load)
		for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
			op := m.Op(opID)
			switch op.Opcode {
			case ir.OpLoad:
				addr := op.Operands[0]
				if v, ok := avail[addr]; ok {
					replaceWithOperand(m, opID, v)
					changed = true
					continue
				}
				forwarded := false
				for a, v := range avail {
					if aq.Must(a, addr) {
						replaceWithOperand(m, opID, v)
						changed = true
						forwarded = true
						break
					}
				}
				if !forwarded {
					avail[addr] = opID
				}
			case ir.OpStore:
				addr, val := op.Operands[0], op.Operands[1]
				for a := range avail {
					if a != addr && !aq.Never(a, addr) {
						delete(avail, a)
					}
				}
				avail[addr] = val
			case ir.OpCall, ir.OpClone, ir.OpJoin, ir.OpWake:
				avail = map[ir.OpID]ir.OpID{}
			}
		}
	}
	return changed
}

// newAliasQuery computes a whole-module analysis.AliasResult and wraps it
// to satisfy AliasQuery. DSE/DLE recompute it lazily (once per Apply, not
// per function) rather than threading a shared result through the pass
// manager, matching DCE/GVN's own lazily-computed analysis.Purity fields.
func newAliasQuery(m *ir.Module) AliasQuery {
	return aliasAdapter{result: analysis.ComputeAlias(m)}
}

// aliasAdapter answers Must/Never/IsGlobal from a real analysis.AliasResult.
// An address with no known alias set (e.g. an unresolved indirect base) is
// conservatively treated as IsGlobal so DSE never eliminates a store through
// it.
type aliasAdapter struct {
	result analysis.AliasResult
}

func (a aliasAdapter) Must(x, y ir.OpID) bool { return analysis.MustAlias(a.result, x, y) }
func (a aliasAdapter) Never(x, y ir.OpID) bool { return analysis.NeverAlias(a.result, x, y) }

func (a aliasAdapter) IsGlobal(x ir.OpID) bool {
	set, ok := a.result[x]
	if !ok || !set.Known {
		return true
	}
	for base := range set.Offsets {
		if base.Kind == ir.AliasBaseGlobal {
			return true
		}
	}
	return false
}
