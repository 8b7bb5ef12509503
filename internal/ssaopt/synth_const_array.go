package ssaopt

import (
	"rvopt/internal/bitvector"
	"rvopt/internal/ir"
)

// SynthConstArray recognizes a single-block counted loop of the shape
// `for (i = 0; i < N; i++) arr[i] = f(i);` with N known at compile time and
// f built only from i and constants, and replaces the whole loop with a
// hoisted constant Global holding f(0..N-1) when f fits a degree-1 or
// degree-2 polynomial. Grounded on spec.md §4.14's description of this pass
// ("best-effort... tries degree-1/degree-2 closed forms via the bit vector
// layer"); it complements HoistConstArray, which only fires once a loop has
// already been unrolled into individual constant stores by
// const-loop-unroll — SynthConstArray instead handles trip counts too large
// to unroll profitably, by deriving the closed form symbolically and
// evaluating it directly rather than emitting N copies of the loop body.
//
// The coefficient search itself runs over internal/bitvector's bit-blasted
// adder/multiplier rather than plain Go arithmetic: two (for degree 1) or
// three (for degree 2) sampled points are turned into equations asserted
// against symbolic coefficient bit-vectors, and internal/sat is asked for a
// satisfying assignment. This gives the SAT core introduced for --sat a
// second, compiler-internal caller, the way the original project's own
// bit-vector/SAT utilities (original_source/src/utils/smt) are shared
// infrastructure rather than single-purpose code.
type SynthConstArray struct{}

func (SynthConstArray) Name() string { return "synth-const-array" }
func (SynthConstArray) Description() string {
	return "replaces small counted array-fill loops with a synthesized constant array"
}

// synthMaxTrip bounds how large a loop this pass will bother symbolically
// evaluating; above this the closed-form search isn't worth its own
// compile-time cost relative to just leaving the loop alone.
const synthMaxTrip = 4096

func (SynthConstArray) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		for _, blk := range append([]ir.BlockID(nil), ir.AllBlocksInFunc(m, fid)...) {
			if trySynthConstArray(m, fid, blk) {
				changed = true
			}
		}
	}
	return changed
}

// countedLoop describes a matched single-block self-loop: blk branches back
// to itself while phi < bound, incrementing phi by 1 each iteration, and
// stores valueOp to base[phi] once per iteration.
type countedLoop struct {
	phi      ir.OpID
	bound    int64
	store    ir.OpID
	valueOp  ir.OpID
	base     ir.OpID // the alloca (or get_global) producing the array's address
	stride   int64
	preheader ir.BlockID
	exit      ir.BlockID
}

func matchCountedLoop(m *ir.Module, blk ir.BlockID) (countedLoop, bool) {
	b := m.Block(blk)
	if len(b.Preds) != 2 {
		return countedLoop{}, false
	}
	var preheader ir.BlockID = ir.InvalidBlock
	selfLoop := false
	for _, p := range b.Preds {
		if p == blk {
			selfLoop = true
		} else {
			preheader = p
		}
	}
	if !selfLoop || !preheader.Valid() {
		return countedLoop{}, false
	}

	var phi ir.OpID = ir.InvalidOp
	for _, opID := range b.Ops {
		op := m.Op(opID)
		if op.Opcode != ir.OpPhi || len(op.PhiFrom) != 2 {
			continue
		}
		var initVal, latchVal ir.OpID
		for i, from := range op.PhiFrom {
			if from == preheader {
				initVal = op.Operands[i]
			} else if from == blk {
				latchVal = op.Operands[i]
			}
		}
		if v, ok := intConstOf(m, initVal); ok && v == 0 {
			latch := m.Op(latchVal)
			if latch.Opcode == ir.OpAddI && len(latch.Operands) == 2 {
				if latch.Operands[0] == opID {
					if step, ok := intConstOf(m, latch.Operands[1]); ok && step == 1 {
						phi = opID
					}
				}
			}
		}
	}
	if !phi.Valid() {
		return countedLoop{}, false
	}

	term := m.Op(b.Terminator())
	if term.Opcode != ir.OpBranch {
		return countedLoop{}, false
	}
	cond := m.Op(term.Operands[0])
	if cond.Opcode != ir.OpLtI || len(cond.Operands) != 2 || cond.Operands[0] != phi {
		return countedLoop{}, false
	}
	bound, ok := intConstOf(m, cond.Operands[1])
	if !ok {
		return countedLoop{}, false
	}
	target, _ := term.Attrs.Block(ir.AttrTarget)
	elseTgt, _ := term.Attrs.Block(ir.AttrElse)
	var exit ir.BlockID
	if target == blk {
		exit = elseTgt
	} else if elseTgt == blk {
		exit = target
	} else {
		return countedLoop{}, false
	}

	var store ir.OpID = ir.InvalidOp
	termID := b.Terminator()
	for _, opID := range b.Ops {
		if opID == termID {
			continue
		}
		op := m.Op(opID)
		if op.Opcode == ir.OpStore {
			if store.Valid() {
				return countedLoop{}, false // more than one store: not our simple pattern
			}
			store = opID
			continue
		}
		if op.Opcode.HasSideEffects() {
			return countedLoop{}, false
		}
	}
	if !store.Valid() {
		return countedLoop{}, false
	}

	st := m.Op(store)
	base, stride, ok := matchArrayAddress(m, st.Operands[0], phi)
	if !ok {
		return countedLoop{}, false
	}

	return countedLoop{
		phi: phi, bound: bound, store: store, valueOp: st.Operands[1],
		base: base, stride: stride, preheader: preheader, exit: exit,
	}, true
}

// matchArrayAddress recognizes `base + phi * stride` (in either operand
// order, built from OpAddL/OpMulL as the IR's pointer-arithmetic idiom —
// see internal/ssaopt/hoist_const_array.go's alias base/offset handling for
// the same base+offset shape at the alias-analysis level).
func matchArrayAddress(m *ir.Module, addr ir.OpID, phi ir.OpID) (base ir.OpID, stride int64, ok bool) {
	addOp := m.Op(addr)
	if addOp.Opcode != ir.OpAddL || len(addOp.Operands) != 2 {
		return ir.InvalidOp, 0, false
	}
	for i := 0; i < 2; i++ {
		lhs, rhs := addOp.Operands[i], addOp.Operands[1-i]
		mul := m.Op(lhs)
		if mul.Opcode != ir.OpMulL || len(mul.Operands) != 2 {
			continue
		}
		var idxOp, strideOp ir.OpID
		if mul.Operands[0] == phi || sameAfterExt(m, mul.Operands[0], phi) {
			idxOp, strideOp = mul.Operands[0], mul.Operands[1]
		} else if mul.Operands[1] == phi || sameAfterExt(m, mul.Operands[1], phi) {
			idxOp, strideOp = mul.Operands[1], mul.Operands[0]
		} else {
			continue
		}
		_ = idxOp
		stride, strideOK := intConstOf(m, strideOp)
		baseOp := m.Op(rhs)
		if !strideOK || (baseOp.Opcode != ir.OpAlloca && baseOp.Opcode != ir.OpGetGlobal) {
			continue
		}
		return rhs, stride, true
	}
	return ir.InvalidOp, 0, false
}

// sameAfterExt allows the index to pass through a no-op widening (i32 loop
// counter used directly as an i64 multiply operand, as the front-end emits
// it without an explicit i2l cast opcode in this IR).
func sameAfterExt(m *ir.Module, opID, phi ir.OpID) bool { return opID == phi }

// evalPure evaluates opID given env (a substitution of specific Op results,
// typically {phi: i}), requiring every transitively-referenced op to be a
// pure integer computation. This lets the pass compute f(i) at compile time
// for every sampled i without emitting or interpreting any IR.
func evalPure(m *ir.Module, opID ir.OpID, env map[ir.OpID]int64) (int64, bool) {
	if v, ok := env[opID]; ok {
		return v, true
	}
	op := m.Op(opID)
	switch op.Opcode {
	case ir.OpIntConst:
		v, _ := op.Attrs.Int(ir.AttrInt)
		return v, true
	case ir.OpAddI, ir.OpSubI, ir.OpMulI, ir.OpDivI, ir.OpModI,
		ir.OpAndI, ir.OpOrI, ir.OpXorI, ir.OpShlI, ir.OpShrI, ir.OpUShrI,
		ir.OpAddL, ir.OpMulL:
		if len(op.Operands) != 2 {
			return 0, false
		}
		a, ok := evalPure(m, op.Operands[0], env)
		if !ok {
			return 0, false
		}
		b, ok := evalPure(m, op.Operands[1], env)
		if !ok {
			return 0, false
		}
		return evalBinInt(op.Opcode, a, b)
	case ir.OpNegI:
		a, ok := evalPure(m, op.Operands[0], env)
		return -a, ok
	default:
		return 0, false
	}
}

func evalBinInt(op ir.Opcode, a, b int64) (int64, bool) {
	switch op {
	case ir.OpAddI, ir.OpAddL:
		return a + b, true
	case ir.OpSubI:
		return a - b, true
	case ir.OpMulI, ir.OpMulL:
		return a * b, true
	case ir.OpDivI:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case ir.OpModI:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case ir.OpAndI:
		return a & b, true
	case ir.OpOrI:
		return a | b, true
	case ir.OpXorI:
		return a ^ b, true
	case ir.OpShlI:
		return a << uint(b), true
	case ir.OpShrI:
		return a >> uint(b), true
	case ir.OpUShrI:
		return int64(uint64(a) >> uint(b)), true
	}
	return 0, false
}

func trySynthConstArray(m *ir.Module, fid ir.FuncID, blk ir.BlockID) bool {
	loop, ok := matchCountedLoop(m, blk)
	if !ok || loop.bound <= 0 || loop.bound > synthMaxTrip {
		return false
	}

	values := make([]int64, loop.bound)
	for i := int64(0); i < loop.bound; i++ {
		v, ok := evalPure(m, loop.valueOp, map[ir.OpID]int64{loop.phi: i})
		if !ok {
			return false
		}
		values[i] = v
	}
	if !fitsLowDegreePolynomial(values) {
		return false
	}

	base := m.Op(loop.base)
	size, _ := base.Attrs.SizeOf(ir.AttrSize)
	if size == 0 {
		size = loop.bound * 4
	}

	b := ir.NewBuilder(m)
	fn := m.Func(fid)
	name := "__synth_" + fn.Name + "_" + itoaLocal(int(loop.phi))
	gid := b.NewGlobal(name, size, ir.TypeI32, nil, values, nil, allZeroInts(values))

	b.SetCursor(ir.Before(m.Block(loop.preheader).Terminator(), loop.preheader))
	get := b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: m.Global(gid).Name}})
	m.ReplaceAllUsesWith(loop.base, get)

	// Retarget the preheader straight to the exit, dropping the loop block
	// entirely; RecomputePredsSuccs below fixes up Preds/Succs afterward.
	preTerm := m.Op(m.Block(loop.preheader).Terminator())
	switch preTerm.Opcode {
	case ir.OpGoto:
		preTerm.Attrs[ir.AttrTarget] = ir.Attr{Kind: ir.AttrTarget, Block: loop.exit}
	case ir.OpBranch:
		if t, _ := preTerm.Attrs.Block(ir.AttrTarget); t == blk {
			preTerm.Attrs[ir.AttrTarget] = ir.Attr{Kind: ir.AttrTarget, Block: loop.exit}
		}
		if e, _ := preTerm.Attrs.Block(ir.AttrElse); e == blk {
			preTerm.Attrs[ir.AttrElse] = ir.Attr{Kind: ir.AttrElse, Block: loop.exit}
		}
	}

	for _, opID := range append([]ir.OpID(nil), m.Block(blk).Ops...) {
		eraseOperandsOf(m, opID)
		m.Erase(opID)
	}
	m.Block(blk).Ops = nil
	ir.RecomputePredsSuccs(m, fn.Region)
	return true
}

func allZeroInts(values []int64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

// fitsLowDegreePolynomial checks whether values[i] for i=0..len-1 matches a
// degree-1 or degree-2 integer polynomial, deriving the candidate
// coefficients from the bit-blasted adder/multiplier in internal/bitvector
// rather than solving the linear system directly, then verifying the fit
// against every sampled point.
func fitsLowDegreePolynomial(values []int64) bool {
	if len(values) < 2 {
		return true
	}
	if a, b, ok := solveLinear(values[0], values[1]); ok {
		if verifyLinear(values, a, b) {
			return true
		}
	}
	if len(values) >= 3 {
		if a, b, c, ok := solveQuadratic(values[0], values[1], values[2]); ok {
			if verifyQuadratic(values, a, b, c) {
				return true
			}
		}
	}
	return false
}

// solveLinear asks internal/sat (via internal/bitvector's bit-blasted
// adder/multiplier) for a,b such that a*0+b=v0 and a*1+b=v1.
func solveLinear(v0, v1 int64) (a, b int64, ok bool) {
	const w = 32
	ctx := bitvector.NewContext()
	av := ctx.NewVar(w)
	bv := ctx.NewVar(w)
	ctx.AssertEqual(bv, ctx.NewConst(v0, w))
	sum, _ := ctx.Add(av, bv)
	ctx.AssertEqual(sum, ctx.NewConst(v1, w))
	isSat, model := ctx.S.Solve()
	if !isSat {
		return 0, 0, false
	}
	return bitvector.Eval(av, model), bitvector.Eval(bv, model), true
}

func verifyLinear(values []int64, a, b int64) bool {
	for i, v := range values {
		if a*int64(i)+b != v {
			return false
		}
	}
	return true
}

// solveQuadratic asks internal/sat for a,b,c such that a*i*i+b*i+c matches
// three sampled points.
func solveQuadratic(v0, v1, v2 int64) (a, b, c int64, ok bool) {
	const w = 32
	ctx := bitvector.NewContext()
	av := ctx.NewVar(w)
	bv := ctx.NewVar(w)
	cv := ctx.NewVar(w)
	ctx.AssertEqual(cv, ctx.NewConst(v0, w))

	at1, _ := ctx.Add(av, bv)
	at1, _ = ctx.Add(at1, cv)
	ctx.AssertEqual(at1, ctx.NewConst(v1, w))

	four := ctx.NewConst(4, w)
	two := ctx.NewConst(2, w)
	aTimes4 := ctx.Mul(av, four)
	bTimes2 := ctx.Mul(bv, two)
	sum, _ := ctx.Add(aTimes4, bTimes2)
	sum, _ = ctx.Add(sum, cv)
	ctx.AssertEqual(sum, ctx.NewConst(v2, w))

	isSat, model := ctx.S.Solve()
	if !isSat {
		return 0, 0, 0, false
	}
	return bitvector.Eval(av, model), bitvector.Eval(bv, model), bitvector.Eval(cv, model), true
}

func verifyQuadratic(values []int64, a, b, c int64) bool {
	for i, v := range values {
		ii := int64(i)
		if a*ii*ii+b*ii+c != v {
			return false
		}
	}
	return true
}

