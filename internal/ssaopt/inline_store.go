package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// InlineStore folds constant-store sequences against a Global that is only
// ever touched from one AtMostOnce function into that Global's initializer,
// walking forward from the entry block along the same "values behave like
// locals" straight-line/single-diamond chain the source accepts (spec.md
// §4.12). Grounded directly on original_source/src/opt/InlineStore.cpp's
// run(): the single-user-function gate, the alias-pinned single-offset
// requirement per load/store, and the one-level-deep branch lookahead (an
// arm that unconditionally returns and never stores is safe to walk past)
// all mirror the source. Also erases Globals with no remaining GetGlobal
// reference anywhere in the module, matching the source's unused-global
// sweep.
type InlineStore struct {
	Alias AliasProvider
}

// AliasProvider is satisfied by analysis.AliasResult; declared here so
// InlineStore doesn't need to import analysis just to re-export the type.
type AliasProvider map[ir.OpID]ir.AliasSet

func (InlineStore) Name() string        { return "inline-store" }
func (InlineStore) Description() string { return "folds constant global stores into the global's initializer" }

func (is *InlineStore) Apply(m *ir.Module) bool {
	if is.Alias == nil {
		is.Alias = AliasProvider(analysis.ComputeAlias(m))
	}
	changed := false

	used := map[ir.GlobalID]map[ir.FuncID]bool{}
	for _, fid := range m.Functions {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpGetGlobal }) {
			op := m.Op(opID)
			name, _ := op.Attrs.Name(ir.AttrName)
			g := m.GlobalByName(name)
			if g == nil {
				continue
			}
			if used[g.ID()] == nil {
				used[g.ID()] = map[ir.FuncID]bool{}
			}
			used[g.ID()][fid] = true
		}
	}

	kept := make([]ir.GlobalID, 0, len(m.Globals))
	for _, gid := range m.Globals {
		if len(used[gid]) == 0 {
			changed = true
			continue
		}
		kept = append(kept, gid)
	}
	m.Globals = kept

	for _, gid := range append([]ir.GlobalID(nil), m.Globals...) {
		owners := used[gid]
		if len(owners) != 1 {
			continue
		}
		var fid ir.FuncID
		for f := range owners {
			fid = f
		}
		if !m.Func(fid).IsAtMostOnce() {
			continue
		}
		if is.foldInto(m, fid, gid) {
			changed = true
		}
	}
	return changed
}

func (is *InlineStore) foldInto(m *ir.Module, fid ir.FuncID, gid ir.GlobalID) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	glob := m.Global(gid)
	isFP := glob.FloatInit != nil
	base := ir.AliasBase{Kind: ir.AliasBaseGlobal, GlobID: gid}
	b := ir.NewBuilder(m)
	changed := false

	runner := m.Region(region).Entry()
	for runner.Valid() {
		bad := false
		for _, opID := range append([]ir.OpID(nil), m.Block(runner).Ops...) {
			op := m.Op(opID)
			switch op.Opcode {
			case ir.OpLoad:
				addr := op.Operands[0]
				offset, ok := singleOffsetAgainst(is.Alias, addr, base)
				if !ok {
					continue
				}
				if offset < 0 {
					bad = true
					break
				}
				b.SetCursor(ir.Before(opID, runner))
				var value ir.OpID
				if isFP {
					value = b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: glob.FloatInit[offset/4]}})
				} else {
					value = b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: glob.IntInit[offset/4]}})
				}
				m.ReplaceAllUsesWith(opID, value)
				eraseOperandsOf(m, opID)
				m.Erase(opID)
				changed = true
			case ir.OpStore:
				addr := op.Operands[0]
				offset, ok := singleOffsetAgainst(is.Alias, addr, base)
				if !ok {
					continue
				}
				if offset < 0 {
					bad = true
					break
				}
				value := op.Operands[1]
				if isFP {
					v, ok := floatConstOf(m, value)
					if !ok {
						continue
					}
					glob.FloatInit[offset/4] = v
				} else {
					v, ok := intConstOf(m, value)
					if !ok {
						continue
					}
					glob.IntInit[offset/4] = v
				}
				eraseOperandsOf(m, opID)
				m.Erase(opID)
				changed = true
			}
		}
		if bad {
			break
		}
		runner = nextInlineStoreBlock(m, runner)
	}

	allZero := true
	if isFP {
		for _, v := range glob.FloatInit {
			if v != 0 {
				allZero = false
				break
			}
		}
	} else {
		for _, v := range glob.IntInit {
			if v != 0 {
				allZero = false
				break
			}
		}
	}
	glob.AllZero = allZero
	return changed
}

// nextInlineStoreBlock advances past a Goto to a sole predecessor, or
// past a Branch whose one arm unconditionally returns without storing (the
// source's "these globals behave as local variables" one-block lookahead),
// else stops.
func nextInlineStoreBlock(m *ir.Module, runner ir.BlockID) ir.BlockID {
	term := m.Block(runner).Terminator()
	if !term.Valid() {
		return ir.InvalidBlock
	}
	termOp := m.Op(term)
	switch termOp.Opcode {
	case ir.OpGoto:
		target, _ := termOp.Attrs.Block(ir.AttrTarget)
		if len(m.Block(target).Preds) == 1 {
			return target
		}
	case ir.OpBranch:
		ifso, _ := termOp.Attrs.Block(ir.AttrTarget)
		ifnot, _ := termOp.Attrs.Block(ir.AttrElse)
		if blockReturnsWithoutStore(m, ifnot) {
			return ifso
		}
		if blockReturnsWithoutStore(m, ifso) {
			return ifnot
		}
	}
	return ir.InvalidBlock
}

func blockReturnsWithoutStore(m *ir.Module, bid ir.BlockID) bool {
	blk := m.Block(bid)
	term := blk.Terminator()
	if !term.Valid() || m.Op(term).Opcode != ir.OpReturn {
		return false
	}
	for _, opID := range blk.Ops {
		if m.Op(opID).Opcode == ir.OpStore {
			return false
		}
	}
	return true
}

// singleOffsetAgainst reports the single concrete byte offset addr is
// known to touch within base, or ok=false if alias info doesn't pin addr
// to exactly base at exactly one offset.
func singleOffsetAgainst(alias AliasProvider, addr ir.OpID, base ir.AliasBase) (int64, bool) {
	set, ok := alias[addr]
	if !ok || !set.Known || len(set.Offsets) != 1 {
		return 0, false
	}
	for b, offs := range set.Offsets {
		if b != base || len(offs) != 1 {
			return 0, false
		}
		for o := range offs {
			return o, true
		}
	}
	return 0, false
}
