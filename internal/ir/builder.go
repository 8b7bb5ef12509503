package ir

// CursorKind selects where a Builder's insertion point sits relative to a
// block or an existing Op (spec.md §4.1).
type CursorKind int

const (
	CursorBlockStart CursorKind = iota
	CursorBlockEnd
	CursorBeforeOp
	CursorAfterOp
)

// Cursor is a Builder's insertion point.
type Cursor struct {
	Kind  CursorKind
	Block BlockID
	Op    OpID
}

func AtBlockStart(b BlockID) Cursor { return Cursor{Kind: CursorBlockStart, Block: b} }
func AtBlockEnd(b BlockID) Cursor   { return Cursor{Kind: CursorBlockEnd, Block: b} }
func Before(op OpID, block BlockID) Cursor {
	return Cursor{Kind: CursorBeforeOp, Block: block, Op: op}
}
func After(op OpID, block BlockID) Cursor {
	return Cursor{Kind: CursorAfterOp, Block: block, Op: op}
}

// Builder creates, inserts, replaces and erases Ops while preserving the
// invariants of spec.md §3: it is the only code path (besides Module's own
// low-level arena methods, which it wraps) allowed to mutate block
// instruction lists.
type Builder struct {
	M      *Module
	cursor Cursor
}

func NewBuilder(m *Module) *Builder { return &Builder{M: m} }

func (b *Builder) SetCursor(c Cursor) { b.cursor = c }
func (b *Builder) Cursor() Cursor     { return b.cursor }

// insert splices opID into the block named by the current cursor, then
// advances the cursor to sit right after the newly inserted op (so repeated
// Create calls append in program order).
func (b *Builder) insert(opID OpID) {
	c := b.cursor
	blk := b.M.Block(c.Block)
	b.M.Op(opID).Block = c.Block

	switch c.Kind {
	case CursorBlockStart:
		blk.Ops = append([]OpID{opID}, blk.Ops...)
	case CursorBlockEnd:
		blk.Ops = append(blk.Ops, opID)
	case CursorBeforeOp:
		blk.Ops = insertBefore(blk.Ops, c.Op, opID)
	case CursorAfterOp:
		blk.Ops = insertAfter(blk.Ops, c.Op, opID)
	}
	b.cursor = After(opID, c.Block)
}

func insertBefore(ops []OpID, target, newOp OpID) []OpID {
	for i, id := range ops {
		if id == target {
			out := make([]OpID, 0, len(ops)+1)
			out = append(out, ops[:i]...)
			out = append(out, newOp)
			out = append(out, ops[i:]...)
			return out
		}
	}
	return append(ops, newOp)
}

func insertAfter(ops []OpID, target, newOp OpID) []OpID {
	for i, id := range ops {
		if id == target {
			out := make([]OpID, 0, len(ops)+1)
			out = append(out, ops[:i+1]...)
			out = append(out, newOp)
			out = append(out, ops[i+1:]...)
			return out
		}
	}
	return append(ops, newOp)
}

// Create allocates a new Op of the given kind at the cursor and returns its
// id. Regions are allocated separately via NewStructuredRegion for
// structured ops.
func (b *Builder) Create(opcode Opcode, typ Type, operands []OpID, attrs AttrMap) OpID {
	id := b.M.allocOp(opcode, typ, operands, attrs)
	b.insert(id)
	return id
}

// Replace creates a new op at target's position, rewires every use of
// target to it, and erases target (spec.md §4.1).
func (b *Builder) Replace(target OpID, opcode Opcode, typ Type, operands []OpID, attrs AttrMap) OpID {
	old := b.M.Op(target)
	block := old.Block
	saved := b.cursor
	b.SetCursor(Before(target, block))
	newID := b.Create(opcode, typ, operands, attrs)
	b.M.ReplaceAllUsesWith(target, newID)
	b.M.Erase(target)
	if saved.Op == target {
		saved.Op = newID
	}
	b.cursor = saved
	return newID
}

// Copy clones opcode, type and attributes (shallow on scalars, deep on
// slice/map payloads) but not operands, which the caller must reassign.
func (b *Builder) Copy(src OpID) OpID {
	op := b.M.Op(src)
	clone := b.M.allocOp(op.Opcode, op.Type, nil, op.Attrs.Clone())
	b.insert(clone)
	return clone
}

// Erase removes op; it must have no remaining uses.
func (b *Builder) Erase(op OpID) { b.M.Erase(op) }

// MoveBefore / MoveAfter relocate an existing op without changing its
// identity or operands.
func (b *Builder) MoveBefore(op, target OpID) {
	b.detach(op)
	targetBlock := b.M.Op(target).Block
	blk := b.M.Block(targetBlock)
	blk.Ops = insertBefore(blk.Ops, target, op)
	b.M.Op(op).Block = targetBlock
}

func (b *Builder) MoveAfter(op, target OpID) {
	b.detach(op)
	targetBlock := b.M.Op(target).Block
	blk := b.M.Block(targetBlock)
	blk.Ops = insertAfter(blk.Ops, target, op)
	b.M.Op(op).Block = targetBlock
}

// MoveToCursor relocates an existing op to an arbitrary cursor position,
// possibly in a different block (spec.md §4.12's block-merging passes move
// whole op sequences across block boundaries without changing op identity
// or operands).
func (b *Builder) MoveToCursor(op OpID, c Cursor) {
	b.detach(op)
	saved := b.cursor
	b.cursor = c
	b.insert(op)
	if saved.Op != op {
		b.cursor = saved
	}
}

func (b *Builder) detach(op OpID) {
	o := b.M.Op(op)
	if !o.Block.Valid() {
		return
	}
	blk := b.M.Block(o.Block)
	for i, id := range blk.Ops {
		if id == op {
			blk.Ops = append(blk.Ops[:i], blk.Ops[i+1:]...)
			break
		}
	}
}

// --- structural construction -------------------------------------------

// NewFunction allocates a Function with a fresh entry region/block.
func (b *Builder) NewFunction(name string, params []Parameter, ret Type) FuncID {
	fn := b.M.allocFunc(name, params, ret)
	region := b.M.allocRegion(fn, InvalidOp)
	b.M.Func(fn).Region = region
	entry := b.NewBlockIn(region, "entry")
	_ = entry
	return fn
}

// NewBlockIn appends a fresh block to region and returns its id.
func (b *Builder) NewBlockIn(region RegionID, label string) BlockID {
	id := b.M.allocBlock(region, label)
	r := b.M.Region(region)
	r.Blocks = append(r.Blocks, id)
	return id
}

// NewGlobal allocates a module-level Global with the given zero-or-literal
// initializer (spec.md §4.12's Globalize/HoistConstArray raise per-function
// locals and constant arrays to module scope).
func (b *Builder) NewGlobal(name string, size int64, elemType Type, dims []int64, intInit []int64, floatInit []float64, allZero bool) GlobalID {
	return b.M.allocGlobal(Global{
		Name:      name,
		Size:      size,
		ElemType:  elemType,
		Dims:      append([]int64(nil), dims...),
		IntInit:   intInit,
		FloatInit: floatInit,
		AllZero:   allZero,
	})
}

// NewRegionFor allocates a nested region owned by a structured op.
func (b *Builder) NewRegionFor(owner OpID) RegionID {
	return b.M.allocRegion(InvalidFunc, owner)
}

// NewTopRegionFor allocates a bare top-level region owned directly by a
// function, with no blocks of its own (used to re-home a function's region
// when wrapping its whole body, e.g. TCO's loop-wrap).
func (b *Builder) NewTopRegionFor(fn FuncID) RegionID {
	return b.M.allocRegion(fn, InvalidOp)
}

// RecomputePredsSuccs rebuilds every block's Preds/Succs in region from its
// terminators (spec.md §4.1). Only meaningful post-flattening.
func RecomputePredsSuccs(m *Module, region RegionID) {
	r := m.Region(region)
	for _, bid := range r.Blocks {
		blk := m.Block(bid)
		blk.Preds = nil
		blk.Succs = nil
	}
	for _, bid := range r.Blocks {
		blk := m.Block(bid)
		term := blk.Terminator()
		if !term.Valid() {
			continue
		}
		for _, succ := range successorsOf(m, term) {
			blk.Succs = append(blk.Succs, succ)
			sblk := m.Block(succ)
			sblk.Preds = append(sblk.Preds, bid)
		}
	}
}

func successorsOf(m *Module, termID OpID) []BlockID {
	term := m.Op(termID)
	switch term.Opcode {
	case OpGoto:
		if t, ok := term.Attrs.Block(AttrTarget); ok {
			return []BlockID{t}
		}
	case OpBranch:
		var out []BlockID
		if t, ok := term.Attrs.Block(AttrTarget); ok {
			out = append(out, t)
		}
		if e, ok := term.Attrs.Block(AttrElse); ok {
			out = append(out, e)
		}
		return out
	}
	return nil
}
