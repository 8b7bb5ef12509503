package loopopt

import "rvopt/internal/ir"

// Vectorize tags every integer/float add, sub and mul and every Load and
// Store in a loop's single body block with AttrParallelizable once the loop
// both carries internal/structured's Parallelizable mark (propagated onto
// the header's Branch by internal/flatten) and has the three-block
// header/body/latch shape with one latch (spec.md §4.9's "ARM only... SIMD
// forms for vectorizable integer/float reductions and maps"). It does not
// itself emit SIMD instructions — that's the backend's job once it sees
// the tag — it only decides which loops are eligible and marks them.
type Vectorize struct{}

func (Vectorize) Name() string        { return "vectorize" }
func (Vectorize) Description() string { return "tags ARM-vectorizable loops for SIMD lowering" }

func (Vectorize) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		dom := ir.ComputeDominance(m, region)
		for _, loop := range BuildLoopForest(m, region, dom) {
			if tagVectorizable(m, loop) {
				changed = true
			}
		}
	}
	return changed
}

func tagVectorizable(m *ir.Module, loop *Loop) bool {
	term := m.Block(loop.Header).Terminator()
	if !term.Valid() || m.Op(term).Opcode != ir.OpBranch {
		return false
	}
	if !m.Op(term).Attrs.Bool(ir.AttrParallelizable) {
		return false
	}
	if len(loop.Blocks) != 3 || len(loop.Latches) != 1 {
		return false
	}
	body := soleBodyBlock(loop, loop.Header, loop.Latches[0])
	if !body.Valid() {
		return false
	}

	changed := false
	for _, opID := range m.Block(body).Ops {
		op := m.Op(opID)
		switch op.Opcode {
		case ir.OpAddI, ir.OpSubI, ir.OpMulI, ir.OpAddF, ir.OpSubF, ir.OpMulF, ir.OpLoad, ir.OpStore:
			if op.Attrs == nil {
				op.Attrs = ir.AttrMap{}
			}
			tagLowerARM(op)
			changed = true
		}
	}
	return changed
}

// tagLowerARM marks op eligible for the backend's OpLowerARM SIMD rewrite
// without changing its scalar opcode here; spec.md leaves codegen itself
// out of scope for this package.
func tagLowerARM(op *ir.Op) {
	op.Attrs[ir.AttrParallelizable] = ir.Attr{Kind: ir.AttrParallelizable, Bool: true}
}
