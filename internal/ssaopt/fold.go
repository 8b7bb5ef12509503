package ssaopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// RegularFold is the algebraic-simplification rule set of spec.md §4.3:
// constant propagation through arithmetic/comparisons, identities,
// absorption, and strength reduction (x*2^k -> x<<k). It is invoked
// repeatedly as other passes expose new constants, over the integer
// opcodes; float arithmetic is not folded.
type RegularFold struct{}

func (RegularFold) Name() string        { return "regular-fold" }
func (RegularFold) Description() string { return "constant folds and algebraically simplifies arithmetic" }

func (RegularFold) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		for _, opID := range ir.FindAllInFunc(m, fid, func(*ir.Op) bool { return true }) {
			if foldOp(m, opID) {
				changed = true
			}
		}
	}
	return changed
}

func intConstOf(m *ir.Module, opID ir.OpID) (int64, bool) {
	op := m.Op(opID)
	if op.Opcode != ir.OpIntConst {
		return 0, false
	}
	v, _ := op.Attrs.Int(ir.AttrInt)
	return v, true
}

func replaceWithIntConst(m *ir.Module, opID ir.OpID, v int64) {
	b := ir.NewBuilder(m)
	b.Replace(opID, ir.OpIntConst, m.Op(opID).Type, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: v}})
}

func replaceWithOperand(m *ir.Module, opID, operand ir.OpID) {
	m.ReplaceAllUsesWith(opID, operand)
	eraseOperandsOf(m, opID)
	m.Erase(opID)
}

func foldOp(m *ir.Module, opID ir.OpID) bool {
	op := m.Op(opID)
	if op.Opcode == ir.OpInvalid {
		return false
	}
	lhsC, lhsOK := intConstOf(m, firstOperand(op))
	rhsC, rhsOK := intConstOf(m, secondOperand(op))

	switch op.Opcode {
	case ir.OpAddI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC+rhsC)
			return true
		}
		if rhsOK && rhsC == 0 {
			replaceWithOperand(m, opID, op.Operands[0])
			return true
		}
		if lhsOK && lhsC == 0 {
			replaceWithOperand(m, opID, op.Operands[1])
			return true
		}
	case ir.OpSubI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC-rhsC)
			return true
		}
		if rhsOK && rhsC == 0 {
			replaceWithOperand(m, opID, op.Operands[0])
			return true
		}
	case ir.OpMulI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC*rhsC)
			return true
		}
		if (lhsOK && lhsC == 0) || (rhsOK && rhsC == 0) {
			replaceWithIntConst(m, opID, 0)
			return true
		}
		if rhsOK && rhsC == 1 {
			replaceWithOperand(m, opID, op.Operands[0])
			return true
		}
		if lhsOK && lhsC == 1 {
			replaceWithOperand(m, opID, op.Operands[1])
			return true
		}
		if rhsOK && isPowerOfTwo(rhsC) {
			shiftBy(m, opID, op.Operands[0], log2(rhsC))
			return true
		}
	case ir.OpDivI:
		if lhsOK && rhsOK && rhsC != 0 {
			replaceWithIntConst(m, opID, lhsC/rhsC)
			return true
		}
		if rhsOK && rhsC == 1 {
			replaceWithOperand(m, opID, op.Operands[0])
			return true
		}
	case ir.OpModI:
		if lhsOK && rhsOK && rhsC != 0 {
			replaceWithIntConst(m, opID, lhsC%rhsC)
			return true
		}
	case ir.OpAndI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC&rhsC)
			return true
		}
	case ir.OpOrI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC|rhsC)
			return true
		}
	case ir.OpXorI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC^rhsC)
			return true
		}
	case ir.OpNegI:
		if lhsOK {
			replaceWithIntConst(m, opID, -lhsC)
			return true
		}
	case ir.OpShlI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC<<uint(rhsC))
			return true
		}
	case ir.OpShrI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, lhsC>>uint(rhsC))
			return true
		}
	case ir.OpEqI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC == rhsC))
			return true
		}
	case ir.OpNeI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC != rhsC))
			return true
		}
	case ir.OpLtI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC < rhsC))
			return true
		}
	case ir.OpLeI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC <= rhsC))
			return true
		}
	case ir.OpGtI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC > rhsC))
			return true
		}
	case ir.OpGeI:
		if lhsOK && rhsOK {
			replaceWithIntConst(m, opID, boolInt(lhsC >= rhsC))
			return true
		}
	case ir.OpBranch:
		if c, ok := intConstOf(m, op.Operands[0]); ok {
			simplifyConstBranch(m, opID, c)
			return true
		}
	}
	return false
}

func firstOperand(op *ir.Op) ir.OpID {
	if len(op.Operands) > 0 {
		return op.Operands[0]
	}
	return ir.InvalidOp
}

func secondOperand(op *ir.Op) ir.OpID {
	if len(op.Operands) > 1 {
		return op.Operands[1]
	}
	return ir.InvalidOp
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isPowerOfTwo(v int64) bool { return v > 0 && v&(v-1) == 0 }

func log2(v int64) int64 {
	n := int64(0)
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func shiftBy(m *ir.Module, opID, value ir.OpID, shift int64) {
	b := ir.NewBuilder(m)
	typ := m.Op(opID).Type
	b.SetCursor(ir.Before(opID, m.Op(opID).Block))
	shiftConst := b.Create(ir.OpIntConst, typ, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: shift}})
	newOp := b.Create(ir.OpShlI, typ, []ir.OpID{value, shiftConst}, ir.AttrMap{})
	replaceWithOperand(m, opID, newOp)
}

// simplifyConstBranch rewrites a Branch with a constant condition into an
// unconditional Goto to the taken target (the untaken edge is left for
// SimplifyCFG/DCE to prune once predecessors/successors are recomputed).
func simplifyConstBranch(m *ir.Module, opID ir.OpID, cond int64) {
	op := m.Op(opID)
	target, _ := op.Attrs.Block(ir.AttrTarget)
	elseTarget, _ := op.Attrs.Block(ir.AttrElse)
	taken := elseTarget
	if cond != 0 {
		taken = target
	}
	b := ir.NewBuilder(m)
	b.Replace(opID, ir.OpGoto, ir.TypeVoid, nil, ir.AttrMap{ir.AttrTarget: {Kind: ir.AttrTarget, Block: taken}})
}

// RangeAwareFold uses Range attributes to discharge guards statically known
// safe from the range, e.g. a comparison whose operand ranges never
// overlap (spec.md §4.3's "RegularFold" family, enriched the way
// original_source/src/opt/RangeAwareFold.cpp folds range-provable
// comparisons before generic constant folding gets a chance).
type RangeAwareFold struct {
	Range map[ir.FuncID]analysis.RangeResult
}

func (r RangeAwareFold) Name() string { return "range-aware-fold" }
func (r RangeAwareFold) Description() string {
	return "folds integer comparisons whose outcome Range attributes decide"
}

func (r *RangeAwareFold) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		rr := analysis.ComputeRange(m, fid)
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
			switch op.Opcode {
			case ir.OpLtI, ir.OpLeI, ir.OpGtI, ir.OpGeI, ir.OpEqI, ir.OpNeI:
				return true
			default:
				return false
			}
		}) {
			if foldRangeCompare(m, opID, rr) {
				changed = true
			}
		}
	}
	return changed
}

func foldRangeCompare(m *ir.Module, opID ir.OpID, rr analysis.RangeResult) bool {
	op := m.Op(opID)
	lhs, lhsOK := rr[op.Operands[0]]
	rhs, rhsOK := rr[op.Operands[1]]
	if !lhsOK || !rhsOK || !lhs.Known || !rhs.Known {
		return false
	}
	var result int
	switch op.Opcode {
	case ir.OpLtI:
		if lhs.Hi < rhs.Lo {
			result = 1
		} else if lhs.Lo >= rhs.Hi {
			result = 0
		} else {
			return false
		}
	case ir.OpGeI:
		if lhs.Lo >= rhs.Hi {
			result = 1
		} else if lhs.Hi < rhs.Lo {
			result = 0
		} else {
			return false
		}
	case ir.OpEqI:
		if lhs.Hi < rhs.Lo || rhs.Hi < lhs.Lo {
			result = 0
		} else {
			return false
		}
	case ir.OpNeI:
		if lhs.Hi < rhs.Lo || rhs.Hi < lhs.Lo {
			result = 1
		} else {
			return false
		}
	default:
		return false
	}
	replaceWithIntConst(m, opID, int64(result))
	return true
}

// Reassociate canonicalizes commutative/associative chains (AddI/MulI) so
// constants drift to one side where RegularFold can reach them, grounded
// on original_source/src/opt/Reassociate.cpp.
type Reassociate struct{}

func (Reassociate) Name() string        { return "reassociate" }
func (Reassociate) Description() string { return "reorders commutative arithmetic chains to expose constants" }

func (Reassociate) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		for _, opID := range ir.FindAllInFunc(m, fid, func(op *ir.Op) bool {
			return op.Opcode == ir.OpAddI || op.Opcode == ir.OpMulI
		}) {
			if reassociateOp(m, opID) {
				changed = true
			}
		}
	}
	return changed
}

// reassociateOp swaps the operands of a commutative AddI/MulI when operand
// 0 is constant and operand 1 is not, so the constant ends up as operand 1,
// the side RegularFold's identity and strength-reduction rules check first.
func reassociateOp(m *ir.Module, opID ir.OpID) bool {
	op := m.Op(opID)
	lhs, rhs := op.Operands[0], op.Operands[1]
	_, lhsConst := intConstOf(m, lhs)
	_, rhsConst := intConstOf(m, rhs)
	if lhsConst && !rhsConst {
		m.SetOperand(opID, 0, rhs)
		m.SetOperand(opID, 1, lhs)
		return true
	}
	return false
}
