package loopopt

import (
	"rvopt/internal/analysis"
	"rvopt/internal/ir"
)

// LICM hoists loop-invariant pure computations (and loads Alias proves
// nothing in the loop can clobber) out of the loop into its pre-header
// (spec.md §4.9). An op is invariant once every operand either comes from
// outside the loop or has itself already been hoisted this pass.
type LICM struct {
	Purity analysis.Purity
	Alias  analysis.AliasResult
}

func (LICM) Name() string        { return "licm" }
func (LICM) Description() string { return "hoists loop-invariant computation into the pre-header" }

func (l *LICM) Apply(m *ir.Module) bool {
	if l.Purity == nil {
		l.Purity = analysis.ComputePurity(m)
	}
	if l.Alias == nil {
		l.Alias = analysis.ComputeAlias(m)
	}
	changed := false
	for _, fid := range m.Functions {
		region := m.Func(fid).Region
		ir.RecomputePredsSuccs(m, region)
		dom := ir.ComputeDominance(m, region)
		for _, loop := range BuildLoopForest(m, region, dom) {
			if ensurePreheader(m, region, loop) {
				ir.RecomputePredsSuccs(m, region)
				dom = ir.ComputeDominance(m, region)
			}
			if licmLoop(m, l.Purity, l.Alias, loop) {
				changed = true
			}
		}
	}
	return changed
}

func licmLoop(m *ir.Module, purity analysis.Purity, alias analysis.AliasResult, loop *Loop) bool {
	if !loop.Preheader.Valid() {
		return false
	}
	changed := false
	invariant := map[ir.OpID]bool{}
	b := ir.NewBuilder(m)
	preTerm := m.Block(loop.Preheader).Terminator()

	for {
		roundChanged := false
		for bid := range loop.Blocks {
			for _, opID := range append([]ir.OpID(nil), m.Block(bid).Ops...) {
				if invariant[opID] {
					continue
				}
				op := m.Op(opID)
				if !canHoist(m, purity, alias, loop, op, invariant) {
					continue
				}
				b.MoveToCursor(opID, ir.Before(preTerm, loop.Preheader))
				invariant[opID] = true
				roundChanged = true
				changed = true
			}
		}
		if !roundChanged {
			break
		}
	}
	return changed
}

func canHoist(m *ir.Module, purity analysis.Purity, alias analysis.AliasResult, loop *Loop, op *ir.Op, invariant map[ir.OpID]bool) bool {
	if op.Opcode == ir.OpPhi || op.Opcode.IsStructured() || !op.HasResult() {
		return false
	}
	if op.Opcode == ir.OpLoad {
		if !loadSafeToHoist(m, alias, loop, op) {
			return false
		}
	} else if !analysis.IsOpPure(m, purity, op) {
		return false
	}
	for _, operand := range op.Operands {
		if !operand.Valid() {
			continue
		}
		defBlock := m.Op(operand).Block
		if loop.Blocks[defBlock] && !invariant[operand] {
			return false
		}
	}
	return true
}

// loadSafeToHoist refuses to hoist a Load if any Store in the loop may
// alias it (spec.md §4.9: "uses Alias to refuse hoisting clobbered
// loads").
func loadSafeToHoist(m *ir.Module, alias analysis.AliasResult, loop *Loop, op *ir.Op) bool {
	addr := op.Operands[0]
	for bid := range loop.Blocks {
		for _, opID := range m.Block(bid).Ops {
			other := m.Op(opID)
			if other.Opcode != ir.OpStore {
				continue
			}
			if !analysis.NeverAlias(alias, addr, other.Operands[0]) {
				return false
			}
		}
	}
	return true
}
