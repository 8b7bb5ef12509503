package ssaopt

import "rvopt/internal/ir"

// Globalize raises a large per-function local (an Alloca bigger than 32
// bytes) to a zero-initialized module Global when its owning function is
// AtMostOnce, then walks the longest single-entry straight-line block chain
// folding constant stores/loads against that global inline (spec.md §4.12).
// Grounded directly on original_source/src/opt/Globalize.cpp: the
// isAddrOf()-style address-of-global recognizer, the "size <= 32 stays on
// the stack" threshold and the allZero bookkeeping at the end all mirror
// the source; the arbitrary-offset unknown-store bailout uses an
// unknownOffsets overlay exactly as the source does so later constant
// loads at untouched offsets still fold.
type Globalize struct{}

func (Globalize) Name() string        { return "globalize" }
func (Globalize) Description() string { return "raises large at-most-once locals to module globals" }

const globalizeSizeThreshold = 32

func (Globalize) Apply(m *ir.Module) bool {
	changed := false
	for _, fid := range append([]ir.FuncID(nil), m.Functions...) {
		fn := m.Func(fid)
		if !fn.IsAtMostOnce() {
			continue
		}
		if globalizeFunc(m, fid) {
			changed = true
		}
	}
	return changed
}

func globalizeFunc(m *ir.Module, fid ir.FuncID) bool {
	region := m.Func(fid).Region
	ir.RecomputePredsSuccs(m, region)
	b := ir.NewBuilder(m)
	allocas := ir.FindAllInFunc(m, fid, func(op *ir.Op) bool { return op.Opcode == ir.OpAlloca })
	changed := false
	allocaCnt := 0

	for _, alloca := range append([]ir.OpID(nil), allocas...) {
		op := m.Op(alloca)
		size, _ := op.Attrs.SizeOf(ir.AttrSize)
		if size <= globalizeSizeThreshold {
			continue
		}
		isFP := op.Attrs.Bool(ir.AttrFP)
		dims, _ := op.Attrs[ir.AttrDimension]

		gname := "__" + m.Func(fid).Name + "_" + itoaLocal(allocaCnt)
		allocaCnt++
		var intInit []int64
		var floatInit []float64
		elemType := ir.TypeI32
		n := size / 4
		if isFP {
			elemType = ir.TypeF32
			floatInit = make([]float64, n)
		} else {
			intInit = make([]int64, n)
		}
		gid := b.NewGlobal(gname, size, elemType, dims.Dims, intInit, floatInit, true)

		b.SetCursor(ir.Before(alloca, op.Block))
		get := b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: gname}})
		m.ReplaceAllUsesWith(alloca, get)

		inlineGlobalStoresLoads(m, b, region, gid, gname, isFP)
		eraseOperandsOf(m, alloca)
		m.Erase(alloca)
		changed = true
	}
	return changed
}

// inlineGlobalStoresLoads walks the longest single-pred/single-succ block
// chain from region's entry, folding constant stores to gname into the
// Global's initializer and replacing constant-offset loads with the
// current folded value (or a just-stored unknown value carried in an
// overlay), exactly as Globalize.cpp's runImpl inner loop does.
func inlineGlobalStoresLoads(m *ir.Module, b *ir.Builder, region ir.RegionID, gid ir.GlobalID, gname string, isFP bool) {
	r := m.Region(region)
	if len(r.Blocks) == 0 {
		return
	}
	runner := r.Entry()
	glob := m.Global(gid)
	unknown := map[int64]ir.OpID{}

	for {
		shouldBreak := false
		for _, opID := range append([]ir.OpID(nil), m.Block(runner).Ops...) {
			op := m.Op(opID)
			switch op.Opcode {
			case ir.OpStore:
				addr := op.Operands[0]
				success, offset := isAddrOfGlobal(m, addr, gname)
				if success && offset < 0 {
					shouldBreak = true
					break
				}
				if !success {
					continue
				}
				value := op.Operands[1]
				if isFP {
					if v, ok := floatConstOf(m, value); ok {
						glob.FloatInit[offset/4] = v
						eraseOperandsOf(m, opID)
						m.Erase(opID)
						continue
					}
				} else {
					if v, ok := intConstOf(m, value); ok {
						glob.IntInit[offset/4] = v
						eraseOperandsOf(m, opID)
						m.Erase(opID)
						continue
					}
				}
				if offset >= 0 {
					unknown[offset] = value
				}
			case ir.OpLoad:
				addr := op.Operands[0]
				success, offset := isAddrOfGlobal(m, addr, gname)
				if success && offset < 0 {
					shouldBreak = true
					break
				}
				if !success {
					continue
				}
				if v, ok := unknown[offset]; ok {
					m.ReplaceAllUsesWith(opID, v)
					eraseOperandsOf(m, opID)
					m.Erase(opID)
					continue
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
			}
			if shouldBreak {
				break
			}
		}
		if shouldBreak {
			break
		}
		blk := m.Block(runner)
		if len(blk.Succs) != 1 {
			break
		}
		succ := blk.Succs[0]
		if len(m.Block(succ).Preds) != 1 {
			break
		}
		runner = succ
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
}

// isAddrOfGlobal reports whether addr provably computes the address of
// gname, and if so, its byte offset (-1 if non-constant), mirroring
// Globalize.cpp's isAddrOf.
func isAddrOfGlobal(m *ir.Module, addr ir.OpID, gname string) (bool, int64) {
	op := m.Op(addr)
	switch op.Opcode {
	case ir.OpGetGlobal:
		name, _ := op.Attrs.Name(ir.AttrName)
		return name == gname, 0
	case ir.OpAddL:
		x, y := op.Operands[0], op.Operands[1]
		if v, ok := intConstOf(m, x); ok {
			success, offset := isAddrOfGlobal(m, y, gname)
			if offset < 0 {
				return success, -1
			}
			return success, offset + v
		}
		if v, ok := intConstOf(m, y); ok {
			success, offset := isAddrOfGlobal(m, x, gname)
			if offset < 0 {
				return success, -1
			}
			return success, offset + v
		}
		if sx, _ := isAddrOfGlobal(m, x, gname); sx {
			return true, -1
		}
		if sy, _ := isAddrOfGlobal(m, y, gname); sy {
			return true, -1
		}
		return false, -1
	default:
		return false, -1
	}
}

func floatConstOf(m *ir.Module, opID ir.OpID) (float64, bool) {
	op := m.Op(opID)
	if op.Opcode != ir.OpFloatConst {
		return 0, false
	}
	v := op.Attrs[ir.AttrFloat].Float
	return v, true
}

func itoaLocal(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
