package ir

// Module is the top-level container: it owns every Op, BasicBlock, Region,
// Function and Global for the lifetime of a compilation (spec.md §3). All
// ids are indices into its arenas; nothing outside Module holds a Go
// pointer into them, so the arenas can be copied, iterated-while-mutating
// (via worklist snapshots) and grown freely.
type Module struct {
	Name string

	ops     []Op
	blocks  []BasicBlock
	regions []Region
	funcs   []Function
	globals []Global

	Functions   []FuncID
	Globals     []GlobalID
	ConstArrays []ConstArray

	blockLabelSeq int
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// --- accessors -------------------------------------------------------

func (m *Module) Op(id OpID) *Op           { return &m.ops[id-1] }
func (m *Module) Block(id BlockID) *BasicBlock { return &m.blocks[id-1] }
func (m *Module) Region(id RegionID) *Region   { return &m.regions[id-1] }
func (m *Module) Func(id FuncID) *Function     { return &m.funcs[id-1] }
func (m *Module) Global(id GlobalID) *Global   { return &m.globals[id-1] }

func (m *Module) FuncByName(name string) *Function {
	for _, id := range m.Functions {
		if f := m.Func(id); f.Name == name {
			return f
		}
	}
	return nil
}

func (m *Module) GlobalByName(name string) *Global {
	for _, id := range m.Globals {
		if g := m.Global(id); g.Name == name {
			return g
		}
	}
	return nil
}

// --- arena allocation (low level; Builder wraps these with invariant
// maintenance and insertion-point bookkeeping) ------------------------

func (m *Module) allocOp(opcode Opcode, typ Type, operands []OpID, attrs AttrMap) OpID {
	if attrs == nil {
		attrs = AttrMap{}
	}
	m.ops = append(m.ops, Op{
		Opcode:   opcode,
		Operands: append([]OpID(nil), operands...),
		Type:     typ,
		Attrs:    attrs,
	})
	id := OpID(len(m.ops))
	m.ops[id-1].id = id
	for i, operand := range operands {
		if operand.Valid() {
			m.addUse(operand, id, i)
		}
	}
	return id
}

func (m *Module) allocBlock(region RegionID, label string) BlockID {
	if label == "" {
		m.blockLabelSeq++
		label = blockLabel(m.blockLabelSeq)
	}
	m.blocks = append(m.blocks, BasicBlock{Region: region, Label: label})
	id := BlockID(len(m.blocks))
	m.blocks[id-1].id = id
	return id
}

func (m *Module) allocRegion(ownerFunc FuncID, ownerOp OpID) RegionID {
	m.regions = append(m.regions, Region{OwnerFunc: ownerFunc, OwnerOp: ownerOp})
	id := RegionID(len(m.regions))
	m.regions[id-1].id = id
	return id
}

func (m *Module) allocFunc(name string, params []Parameter, ret Type) FuncID {
	m.funcs = append(m.funcs, Function{Name: name, Params: params, ReturnType: ret, Attrs: AttrMap{}})
	id := FuncID(len(m.funcs))
	m.funcs[id-1].id = id
	m.Functions = append(m.Functions, id)
	return id
}

func (m *Module) allocGlobal(g Global) GlobalID {
	m.globals = append(m.globals, g)
	id := GlobalID(len(m.globals))
	m.globals[id-1].id = id
	m.Globals = append(m.Globals, id)
	return id
}

func blockLabel(n int) string {
	const letters = "bb"
	_ = letters
	return "bb" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- use-edge maintenance ---------------------------------------------

func (m *Module) addUse(operand, user OpID, index int) {
	op := m.Op(operand)
	op.uses = append(op.uses, Use{User: user, Index: index})
}

func (m *Module) removeUse(operand, user OpID, index int) {
	op := m.Op(operand)
	for i, u := range op.uses {
		if u.User == user && u.Index == index {
			op.uses = append(op.uses[:i], op.uses[i+1:]...)
			return
		}
	}
}

// SetOperand rewrites operand[index] of op from its old value to newOperand,
// keeping use lists consistent on both ends.
func (m *Module) SetOperand(opID OpID, index int, newOperand OpID) {
	op := m.Op(opID)
	old := op.Operands[index]
	if old == newOperand {
		return
	}
	if old.Valid() {
		m.removeUse(old, opID, index)
	}
	op.Operands[index] = newOperand
	if newOperand.Valid() {
		m.addUse(newOperand, opID, index)
	}
}

// AppendOperand adds a new trailing operand (used when growing Phi operand
// lists and variadic Call argument lists).
func (m *Module) AppendOperand(opID OpID, operand OpID) int {
	op := m.Op(opID)
	index := len(op.Operands)
	op.Operands = append(op.Operands, operand)
	if operand.Valid() {
		m.addUse(operand, opID, index)
	}
	return index
}

// ReplaceAllUsesWith rewires every use of oldOp to point at newOp instead.
// It does not erase oldOp; the caller must do so once it has zero uses.
func (m *Module) ReplaceAllUsesWith(oldOp, newOp OpID) {
	if oldOp == newOp {
		return
	}
	old := m.Op(oldOp)
	uses := old.uses
	old.uses = nil
	for _, u := range uses {
		user := m.Op(u.User)
		user.Operands[u.Index] = newOp
		if newOp.Valid() {
			m.addUse(newOp, u.User, u.Index)
		}
	}
	// also patch FromAttr/Target/Else block back-references is not
	// applicable here: those refer to BlockID, not OpID.
}

// Erase removes op from its block's instruction list and drops it from the
// arena bookkeeping. The caller must ensure it has no remaining uses.
func (m *Module) Erase(opID OpID) {
	op := m.Op(opID)
	if len(op.uses) != 0 {
		panic("ir: erase of op with remaining uses")
	}
	for i, operand := range op.Operands {
		if operand.Valid() {
			m.removeUse(operand, opID, i)
		}
	}
	op.Operands = nil
	if op.Block.Valid() {
		blk := m.Block(op.Block)
		for i, id := range blk.Ops {
			if id == opID {
				blk.Ops = append(blk.Ops[:i], blk.Ops[i+1:]...)
				break
			}
		}
	}
	op.Block = InvalidBlock
	op.Opcode = OpInvalid
}

// ForceEraseBlock removes a block assumed to already have had its
// operations' operands dropped (spec.md §3 lifecycle). It unlinks the block
// from its region and from any predecessor/successor lists.
func (m *Module) ForceEraseBlock(id BlockID) {
	blk := m.Block(id)
	region := m.Region(blk.Region)
	for i, b := range region.Blocks {
		if b == id {
			region.Blocks = append(region.Blocks[:i], region.Blocks[i+1:]...)
			break
		}
	}
	for _, p := range blk.Preds {
		pred := m.Block(p)
		pred.Succs = removeBlock(pred.Succs, id)
	}
	for _, s := range blk.Succs {
		succ := m.Block(s)
		succ.Preds = removeBlock(succ.Preds, id)
	}
}

func removeBlock(list []BlockID, target BlockID) []BlockID {
	out := list[:0]
	for _, b := range list {
		if b != target {
			out = append(out, b)
		}
	}
	return out
}
