package ssaopt

import (
	"fmt"

	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// Specialize clones a callee once per (argument index, sign) pattern a
// call site's RangeAttr proves (currently: "argument i is provably
// non-negative"), redirecting that call site to the clone, on the bet that
// RangeAwareFold and RegularFold can then remove a branch the clone no
// longer needs to guard against a negative value. Grounded directly on
// original_source/src/opt/Specialize.cpp's specialize()/run(): the
// `__pos_<i>_<name>` naming convention and the "only split once per
// (name,index)" produced/processed bookkeeping are carried over. Apply
// recomputes Range for every function until no call site changes;
// RangeAwareFold is not run inside this pass.
//
// Off by default (DESIGN.md Open Question decision, matching the source's
// own pipeline never scheduling it): speculative cloning can blow up code
// size with no soundness issue but a real compile-time cost, so it is only
// wired in via a custom pass-plan's `enable_specialize: true`.
type Specialize struct {
	produced map[string]bool
}

func (s *Specialize) Name() string        { return "specialize" }
func (s *Specialize) Description() string { return "clones callees per proven-argument-sign call pattern" }

func (s *Specialize) Apply(m *ir.Module) bool {
	if s.produced == nil {
		s.produced = map[string]bool{}
	}
	changed := false
	again := true
	for again {
		again = false
		for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
			ranges := analysis.ComputeRange(m, fid)
			for _, callID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpCall }) {
				if s.trySpecialize(m, ranges, callID) {
					changed, again = true, true
				}
			}
		}
	}
	return changed
}

func (s *Specialize) trySpecialize(m *ir.Module, ranges analysis.RangeResult, callID ir.OpID) bool {
	call := m.Op(callID)
	name, _ := call.Attrs.Name(ir.AttrName)
	callee := m.FuncByName(name)
	if callee == nil || s.produced[name] {
		return false // external, or already a specialized clone
	}
	for i, arg := range call.Operands {
		rng, ok := ranges[arg]
		if !ok || !rng.Known || rng.Lo < 0 {
			continue
		}
		pname := posName(name, i)
		if !s.produced[pname] {
			s.produced[pname] = true
			cloneFunction(m, callee.ID(), pname)
		}
		call.Attrs[ir.AttrName] = ir.Attr{Kind: ir.AttrName, Name: pname}
		return true
	}
	return false
}

func posName(name string, i int) string {
	return fmt.Sprintf("__pos_%d_%s", i, name)
}

// cloneFunction duplicates fid's whole body under a fresh name, reusing the
// same clone-map/retarget-map cloning discipline LateInline uses for a
// single callee splice (internal/ssaopt/late_inline.go's lateDoInline).
func cloneFunction(m *ir.Module, fid ir.FuncID, newName string) ir.FuncID {
	src := m.Func(fid)
	b := ir.NewBuilder(m)
	newFid := b.NewFunction(newName, append([]ir.Parameter(nil), src.Params...), src.ReturnType)

	srcRegion := m.Func(fid).Region
	srcBlocks := m.Region(srcRegion).Blocks
	dstRegion := m.Func(newFid).Region
	// The fresh function already has one entry block; reuse it for the
	// first source block instead of leaving it orphaned.
	body := make([]ir.BlockID, len(srcBlocks))
	body[0] = m.Region(dstRegion).Entry()
	for i := 1; i < len(srcBlocks); i++ {
		body[i] = b.NewBlockIn(dstRegion, "")
	}

	cloneMap := map[ir.OpID]ir.OpID{}
	retarget := map[ir.BlockID]ir.BlockID{}
	for i, srcBlk := range srcBlocks {
		retarget[srcBlk] = body[i]
	}
	for i, srcBlk := range srcBlocks {
		blk := m.Block(srcBlk)
		b.SetCursor(ir.AtBlockEnd(body[i]))
		for _, opID := range blk.Ops {
			cloneMap[opID] = b.Copy(opID)
		}
	}
	for _, srcBlk := range srcBlocks {
		for _, opID := range m.Block(srcBlk).Ops {
			clone := cloneMap[opID]
			srcOp := m.Op(opID)
			cloneOp := m.Op(clone)
			for _, operand := range srcOp.Operands {
				m.AppendOperand(clone, cloneMap[operand])
			}
			if srcOp.Opcode == ir.OpPhi {
				cloneOp.PhiFrom = make([]ir.BlockID, len(srcOp.PhiFrom))
				for i, from := range srcOp.PhiFrom {
					cloneOp.PhiFrom[i] = retarget[from]
				}
			}
		}
	}
	retargetBlockAttrs(m, cloneMap, retarget)
	return newFid
}
