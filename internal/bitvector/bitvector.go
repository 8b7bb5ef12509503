// Package bitvector implements the bit-blasting layer of spec.md §4.14: it
// lowers fixed-width integer arithmetic (32-bit, and 64-bit for
// multiplication) into CNF over internal/sat, the way a bit-blasting SMT
// front-end sits on top of a bare SAT core. Grounded on
// original_source/src/utils/smt/BvExpr.h, adapted from the source's
// AST-then-Tseitin-compile design (BvExpr tree walked by Solve.cpp) into a
// direct circuit-builder API, since spec.md §1 keeps the surrounding CDCL
// algorithm unspecified and only SynthConstArray (internal/ssaopt) needs a
// caller-facing surface here, not a standalone expression language.
package bitvector

import "rvopt/internal/sat"

// Context owns the SAT solver a set of bit-vectors is built against, plus
// the reusable true/false literal pair every constant bit-blasts to.
type Context struct {
	S        *sat.Solver
	trueLit  sat.Literal
	falseLit sat.Literal
}

// NewContext allocates a fresh SAT instance with one reserved variable
// forced true, used to bit-blast constant 0/1 bits without growing the
// clause set for every literal constant.
func NewContext() *Context {
	s := sat.NewSolver(0)
	trueVar := s.AddVar()
	trueLit := sat.Lit(trueVar)
	s.AddClause([]sat.Literal{trueLit})
	return &Context{S: s, trueLit: trueLit, falseLit: trueLit.Neg()}
}

// BitVec is a fixed-width vector of SAT literals, LSB first.
type BitVec struct {
	bits []sat.Literal
}

func (b BitVec) Width() int { return len(b.bits) }

// NewVar allocates a fresh unconstrained bit-vector of the given width.
func (c *Context) NewVar(width int) BitVec {
	bits := make([]sat.Literal, width)
	for i := range bits {
		bits[i] = sat.Lit(c.S.AddVar())
	}
	return BitVec{bits: bits}
}

// NewConst bit-blasts a fixed value into literals pinned to true/false.
func (c *Context) NewConst(value int64, width int) BitVec {
	bits := make([]sat.Literal, width)
	for i := 0; i < width; i++ {
		if value&(1<<uint(i)) != 0 {
			bits[i] = c.trueLit
		} else {
			bits[i] = c.falseLit
		}
	}
	return BitVec{bits: bits}
}

// --- Tseitin gate primitives --------------------------------------------

func (c *Context) and(a, b sat.Literal) sat.Literal {
	v := sat.Lit(c.S.AddVar())
	c.S.AddClause([]sat.Literal{v.Neg(), a})
	c.S.AddClause([]sat.Literal{v.Neg(), b})
	c.S.AddClause([]sat.Literal{v, a.Neg(), b.Neg()})
	return v
}

func (c *Context) or(a, b sat.Literal) sat.Literal {
	v := sat.Lit(c.S.AddVar())
	c.S.AddClause([]sat.Literal{v, a.Neg()})
	c.S.AddClause([]sat.Literal{v, b.Neg()})
	c.S.AddClause([]sat.Literal{v.Neg(), a, b})
	return v
}

func (c *Context) xor(a, b sat.Literal) sat.Literal {
	v := sat.Lit(c.S.AddVar())
	c.S.AddClause([]sat.Literal{v.Neg(), a, b})
	c.S.AddClause([]sat.Literal{v, a, b.Neg()})
	c.S.AddClause([]sat.Literal{v, a.Neg(), b})
	c.S.AddClause([]sat.Literal{v.Neg(), a.Neg(), b.Neg()})
	return v
}

func (c *Context) mux(cond, ifTrue, ifFalse sat.Literal) sat.Literal {
	// v <-> (cond & ifTrue) | (!cond & ifFalse)
	return c.or(c.and(cond, ifTrue), c.and(cond.Neg(), ifFalse))
}

// --- ripple-carry adder --------------------------------------------------

// fullAdder returns (sum, carryOut) for a + b + carryIn, bit-blasted with a
// carry-propagate/carry-generate structure (spec.md §4.14).
func (c *Context) fullAdder(a, b, cin sat.Literal) (sum, cout sat.Literal) {
	axb := c.xor(a, b)
	sum = c.xor(axb, cin)
	generate := c.and(a, b)
	propagate := c.and(axb, cin)
	cout = c.or(generate, propagate)
	return sum, cout
}

// Add bit-blasts a ripple-carry adder over equal-width operands, returning
// the width-bit sum and the final carry-out.
func (c *Context) Add(a, b BitVec) (sum BitVec, carryOut sat.Literal) {
	w := a.Width()
	out := make([]sat.Literal, w)
	carry := c.falseLit
	for i := 0; i < w; i++ {
		out[i], carry = c.fullAdder(a.bits[i], b.bits[i], carry)
	}
	return BitVec{bits: out}, carry
}

// Neg bit-blasts two's-complement negation: ~a + 1.
func (c *Context) Neg(a BitVec) BitVec {
	inv := make([]sat.Literal, a.Width())
	for i, bit := range a.bits {
		inv[i] = bit.Neg()
	}
	one := c.NewConst(1, a.Width())
	sum, _ := c.Add(BitVec{bits: inv}, one)
	return sum
}

// Sub bit-blasts a - b as a + (-b).
func (c *Context) Sub(a, b BitVec) BitVec {
	sum, _ := c.Add(a, c.Neg(b))
	return sum
}

// Mul bit-blasts shift-and-add multiplication (spec.md §4.14); the result
// is truncated to the operand width (32-bit) or may be called at width 64
// for the widened case spec.md calls out.
func (c *Context) Mul(a, b BitVec) BitVec {
	w := a.Width()
	acc := c.NewConst(0, w)
	for i := 0; i < w; i++ {
		partial := make([]sat.Literal, w)
		for j := 0; j < w; j++ {
			if j < i {
				partial[j] = c.falseLit
			} else {
				partial[j] = c.and(a.bits[i], b.bits[j-i])
			}
		}
		acc, _ = c.Add(acc, BitVec{bits: partial})
	}
	return acc
}

// Eq bit-blasts bitwise equality as an AND of per-bit XNORs.
func (c *Context) Eq(a, b BitVec) sat.Literal {
	acc := c.trueLit
	for i := range a.bits {
		xnor := c.xor(a.bits[i], b.bits[i]).Neg()
		acc = c.and(acc, xnor)
	}
	return acc
}

// ULt bit-blasts unsigned less-than via subtract-and-test-sign: a < b iff
// a - b borrows, i.e. iff the adder computing a + (~b) + 1 produces no
// carry out of the top bit.
func (c *Context) ULt(a, b BitVec) sat.Literal {
	inv := make([]sat.Literal, b.Width())
	for i, bit := range b.bits {
		inv[i] = bit.Neg()
	}
	w := a.Width()
	carry := c.trueLit // +1 for two's complement negation folded into the carry-in
	for i := 0; i < w; i++ {
		_, carry = c.fullAdder(a.bits[i], inv[i], carry)
	}
	return carry.Neg()
}

// SLt bit-blasts signed less-than: unsigned-less-than of the operands with
// their sign bits flipped (standard two's-complement-to-unsigned trick).
func (c *Context) SLt(a, b BitVec) sat.Literal {
	w := a.Width()
	af := append([]sat.Literal(nil), a.bits...)
	bf := append([]sat.Literal(nil), b.bits...)
	af[w-1] = af[w-1].Neg()
	bf[w-1] = bf[w-1].Neg()
	return c.ULt(BitVec{bits: af}, BitVec{bits: bf})
}

// UDiv bit-blasts unsigned restoring division, returning (quotient,
// remainder).
func (c *Context) UDiv(a, b BitVec) (quotient, remainder BitVec) {
	w := a.Width()
	rem := c.NewConst(0, w)
	quot := make([]sat.Literal, w)
	for i := w - 1; i >= 0; i-- {
		rem = BitVec{bits: append([]sat.Literal{a.bits[i]}, rem.bits[:w-1]...)}
		ge := c.or(c.ULt(b, rem), c.Eq(b, rem))
		trial := c.Sub(rem, b)
		for j := 0; j < w; j++ {
			rem.bits[j] = c.mux(ge, trial.bits[j], rem.bits[j])
		}
		quot[i] = ge
	}
	return BitVec{bits: quot}, rem
}

// SDiv bit-blasts signed division via absolute-value dispatch (spec.md
// §4.14): divide the magnitudes, then fix up the quotient's sign from the
// XOR of the operands' signs and the remainder's sign from the dividend.
func (c *Context) SDiv(a, b BitVec) (quotient, remainder BitVec) {
	w := a.Width()
	aNeg := a.bits[w-1]
	bNeg := b.bits[w-1]
	aAbs := BitVec{bits: make([]sat.Literal, w)}
	bAbs := BitVec{bits: make([]sat.Literal, w)}
	negA, negB := c.Neg(a), c.Neg(b)
	for i := 0; i < w; i++ {
		aAbs.bits[i] = c.mux(aNeg, negA.bits[i], a.bits[i])
		bAbs.bits[i] = c.mux(bNeg, negB.bits[i], b.bits[i])
	}
	q, r := c.UDiv(aAbs, bAbs)
	qSign := c.xor(aNeg, bNeg)
	negQ, negR := c.Neg(q), c.Neg(r)
	for i := 0; i < w; i++ {
		q.bits[i] = c.mux(qSign, negQ.bits[i], q.bits[i])
		r.bits[i] = c.mux(aNeg, negR.bits[i], r.bits[i])
	}
	return q, r
}

// Bit returns the i-th literal (0 = LSB), for callers that need to assert
// or read back an individual bit (e.g. pinning a BitVec to a known model
// value after Solve).
func (b BitVec) Bit(i int) sat.Literal { return b.bits[i] }

// Fix asserts bv equals the given constant under c's solver — used to pin
// a symbolic closed-form's free coefficients once a model is found.
func (c *Context) Fix(bv BitVec, value int64) {
	for i, bit := range bv.bits {
		if value&(1<<uint(i)) != 0 {
			c.S.AddClause([]sat.Literal{bit})
		} else {
			c.S.AddClause([]sat.Literal{bit.Neg()})
		}
	}
}

// AssertEqual asserts a == b as a hard constraint.
func (c *Context) AssertEqual(a, b BitVec) {
	c.S.AddClause([]sat.Literal{c.Eq(a, b)})
}

// Eval reads a solved model back into a signed 32/64-bit integer.
func Eval(bv BitVec, model []bool) int64 {
	var v int64
	for i, bit := range bv.bits {
		val := model[bit.Var()]
		if bit.Sign() {
			val = !val
		}
		if val {
			v |= 1 << uint(i)
		}
	}
	w := bv.Width()
	if w < 64 && v&(1<<uint(w-1)) != 0 {
		v -= 1 << uint(w)
	}
	return v
}
