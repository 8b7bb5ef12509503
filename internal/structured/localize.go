package structured

import "rvopt/internal/ir"

// Localize is the inverse of ssaopt.Globalize (spec.md §4.3): a module
// global touched by exactly one function, whose address never escapes that
// function (no use reaches a Call argument or a Store of the address
// itself), is demoted to an ordinary local alloca in that function's entry
// block, with its initializer replayed as explicit stores ahead of the
// rest of the prelude. This only ever shrinks the global set MoveAlloca and
// later passes have to reason about as aliasing "unknown within this base"
// — a single-function global is exactly as local as a stack slot once no
// other function can reach it.
type Localize struct{}

func (Localize) Name() string        { return "localize" }
func (Localize) Description() string { return "demotes single-function globals to local allocas" }

func (Localize) Apply(m *ir.Module) bool {
	changed := false
	for _, gid := range append([]ir.GlobalID(nil), m.Globals...) {
		if localizeGlobal(m, gid) {
			changed = true
		}
	}
	return changed
}

func localizeGlobal(m *ir.Module, gid ir.GlobalID) bool {
	g := m.Global(gid)
	isUser := func(op *ir.Op) bool {
		if op.Opcode != ir.OpGetGlobal {
			return false
		}
		name, _ := op.Attrs.Name(ir.AttrName)
		return name == g.Name
	}

	owner := ir.InvalidFunc
	var users []ir.OpID
	for _, fid := range m.Functions {
		found := ir.FindAllInFunc(m, fid, isUser)
		if len(found) == 0 {
			continue
		}
		if owner.Valid() && owner != fid {
			return false // used by more than one function.
		}
		owner = fid
		users = append(users, found...)
	}
	if len(users) == 0 {
		return false
	}
	for _, u := range users {
		if !addressStaysLocal(m, u) {
			return false
		}
	}

	entry := entryOf(m, m.Func(owner).Region)
	if !entry.Valid() {
		return false
	}

	b := ir.NewBuilder(m)
	b.SetCursor(ir.AtBlockStart(entry))
	attrs := ir.AttrMap{
		ir.AttrSize: {Kind: ir.AttrSize, Size: g.Size},
		ir.AttrFP:   {Kind: ir.AttrFP, Bool: g.ElemType == ir.TypeF32},
	}
	if len(g.Dims) > 0 {
		attrs[ir.AttrDimension] = ir.Attr{Kind: ir.AttrDimension, Dims: g.Dims}
	}
	alloca := b.Create(ir.OpAlloca, ir.TypeI64, nil, attrs)
	if !g.AllZero {
		replayGlobalInit(m, b, alloca, g)
	}

	for _, u := range users {
		m.ReplaceAllUsesWith(u, alloca)
		eraseOperandsOf(m, u)
		m.Erase(u)
	}
	removeGlobal(m, gid)
	return true
}

// addressStaysLocal reports whether a GetGlobal's result only ever flows
// into address arithmetic (AddL) and Load/Store, never into a Call
// argument or a Store of the address value itself — the "strict aliasing
// constraints" spec.md §4.3 requires before a global can be demoted.
func addressStaysLocal(m *ir.Module, getGlobal ir.OpID) bool {
	var check func(ir.OpID) bool
	check = func(addr ir.OpID) bool {
		for _, use := range m.Op(addr).Uses() {
			op := m.Op(use.User)
			switch op.Opcode {
			case ir.OpLoad:
				// fine: reads through the address.
			case ir.OpStore:
				if op.Operands[0] != addr {
					return false // address stored as a value, escapes.
				}
			case ir.OpAddL:
				if !check(use.User) {
					return false
				}
			default:
				return false
			}
		}
		return true
	}
	return check(getGlobal)
}

// replayGlobalInit materializes g's initializer as explicit element stores
// at b's current cursor, since an alloca (unlike a Global) carries no
// guaranteed initial contents.
func replayGlobalInit(m *ir.Module, b *ir.Builder, alloca ir.OpID, g *ir.Global) {
	isFP := g.ElemType == ir.TypeF32
	n := int64(len(g.IntInit))
	if isFP {
		n = int64(len(g.FloatInit))
	}
	for i := int64(0); i < n; i++ {
		var val ir.OpID
		if isFP {
			val = b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: g.FloatInit[i]}})
		} else {
			val = b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: g.IntInit[i]}})
		}
		addr := alloca
		if off := i * 4; off != 0 {
			offConst := b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: off}})
			addr = b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{offConst, alloca}, nil)
		}
		b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, val}, nil)
	}
}

// removeGlobal drops gid from the module's global list; nothing else
// references it once localizeGlobal has rewritten every GetGlobal use.
func removeGlobal(m *ir.Module, gid ir.GlobalID) {
	kept := make([]ir.GlobalID, 0, len(m.Globals))
	for _, id := range m.Globals {
		if id != gid {
			kept = append(kept, id)
		}
	}
	m.Globals = kept
}
