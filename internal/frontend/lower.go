package frontend

import (
	"fmt"
	"strconv"
	"strings"

	"rvopt/internal/diag"
	"rvopt/internal/ir"
)

// binding names a storage location a local, parameter or global variable
// lowers to: an alloca/raw-pointer OpID for locals and array parameters, or
// a Global name that addrOf re-materializes with a fresh OpGetGlobal at
// every use (mirroring synth_const_array.go's and globalize.go's own
// GetGlobal-per-use convention rather than caching one across the function).
type binding struct {
	addr     ir.OpID
	elemType ir.Type
	isArray  bool
	global   string
}

type scope struct {
	parent *scope
	vars   map[string]*binding
}

func newScope(parent *scope) *scope { return &scope{parent: parent, vars: map[string]*binding{}} }

func (s *scope) lookup(name string) (*binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// lowerer holds the module-wide state shared across every function being
// lowered: the globals and function-signature tables populated in a first
// pass so forward and mutually recursive calls resolve.
type lowerer struct {
	m       *ir.Module
	b       *ir.Builder
	globals map[string]*binding
	funcs   map[string]ir.FuncID
	diag    *diag.Reporter
}

// externReturnType is the builtin-function return-type table, grounded on
// internal/interp's extern() switch: getint/getch/getarray/getfarray return
// i32, getfloat returns f32, and the put*/timing builtins return void.
var externReturnType = map[string]ir.Type{
	"getint":           ir.TypeI32,
	"getch":            ir.TypeI32,
	"getarray":         ir.TypeI32,
	"getfarray":        ir.TypeI32,
	"getfloat":         ir.TypeF32,
	"putint":           ir.TypeVoid,
	"putch":            ir.TypeVoid,
	"putfloat":         ir.TypeVoid,
	"putarray":         ir.TypeVoid,
	"putfarray":        ir.TypeVoid,
	"_sysy_starttime":  ir.TypeVoid,
	"_sysy_stoptime":   ir.TypeVoid,
}

// Lower turns a parsed Program into an ir.Module. Diagnostics accumulate in
// the returned Reporter; the module is returned even when errors occurred,
// covering what was successfully lowered, so callers that want a best-effort
// dump (e.g. --dump-ast paired with a partial --dump-mid-ir) still get one.
func Lower(moduleName string, prog *Program) (*ir.Module, *diag.Reporter) {
	m := &ir.Module{Name: moduleName}
	lw := &lowerer{
		m:       m,
		b:       ir.NewBuilder(m),
		globals: map[string]*binding{},
		funcs:   map[string]ir.FuncID{},
		diag:    &diag.Reporter{},
	}

	var funcDecls []*FuncDecl
	for _, top := range prog.Decls {
		switch {
		case top.Var != nil:
			lw.lowerGlobalDecl(top.Var)
		case top.Func != nil:
			lw.declareFunc(top.Func)
			funcDecls = append(funcDecls, top.Func)
		}
	}
	for _, fd := range funcDecls {
		lw.lowerFuncBody(fd)
	}
	return m, lw.diag
}

func typeOf(name string) ir.Type {
	switch name {
	case "int":
		return ir.TypeI32
	case "float":
		return ir.TypeF32
	default:
		return ir.TypeVoid
	}
}

func typeSize(t ir.Type) int64 {
	if t == ir.TypeI64 {
		return 8
	}
	return 4
}

func (lw *lowerer) errorf(format string, args ...any) {
	lw.diag.Errorf(diag.ErrLower, format, args...)
}

// --- declarations --------------------------------------------------------

func (lw *lowerer) declareFunc(fd *FuncDecl) {
	ret := typeOf(fd.Return.Name)
	params := make([]ir.Parameter, 0, len(fd.Params))
	for _, p := range fd.Params {
		pt := typeOf(p.Type.Name)
		if len(p.Dims) > 0 {
			pt = ir.TypeI64 // array parameters decay to a raw pointer
		}
		params = append(params, ir.Parameter{Name: p.Name, Type: pt})
	}
	fid := lw.b.NewFunction(fd.Name, params, ret)
	lw.funcs[fd.Name] = fid
}

func (lw *lowerer) lowerFuncBody(fd *FuncDecl) {
	fid := lw.funcs[fd.Name]
	fn := lw.m.Func(fid)
	entry := lw.m.Region(fn.Region).Entry()
	lw.b.SetCursor(ir.AtBlockEnd(entry))

	fc := &funcCtx{lw: lw, fid: fid, retType: fn.ReturnType}
	sc := newScope(nil)

	for i, p := range fd.Params {
		argVal := lw.b.Create(ir.OpGetArg, fn.Params[i].Type, nil, ir.AttrMap{
			ir.AttrInt: {Kind: ir.AttrInt, Int: int64(i)},
		})
		if len(p.Dims) > 0 {
			sc.vars[p.Name] = &binding{addr: argVal, elemType: typeOf(p.Type.Name), isArray: true}
			continue
		}
		elemType := typeOf(p.Type.Name)
		alloca := lw.b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(elemType)},
			ir.AttrFP:   {Kind: ir.AttrFP, Bool: elemType == ir.TypeF32},
		})
		lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{alloca, argVal}, nil)
		sc.vars[p.Name] = &binding{addr: alloca, elemType: elemType}
	}

	term, err := fc.lowerBlock(fd.Body, sc)
	if err != nil {
		lw.errorf("%s: %v", fd.Name, err)
		return
	}
	if !term {
		if fn.ReturnType == ir.TypeVoid {
			lw.b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)
		} else {
			zero := fc.zeroOf(fn.ReturnType)
			lw.b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{zero}, nil)
		}
	}
}

// --- global declarations and constant folding -----------------------------

func (lw *lowerer) lowerGlobalDecl(v *VarDecl) {
	baseType := typeOf(v.Type.Name)
	for _, d := range v.Decls {
		if len(d.Dims) > 1 {
			lw.errorf("global %q: multi-dimensional arrays are not supported", d.Name)
			continue
		}
		if len(d.Dims) == 1 {
			n, ok := constIntOf(d.Dims[0].Size)
			if !ok {
				lw.errorf("global %q: array dimension must be a constant", d.Name)
				continue
			}
			intInit, floatInit, allZero := evalArrayInit(d.Init, baseType, int(n))
			lw.b.NewGlobal(d.Name, n*4, baseType, []int64{n}, intInit, floatInit, allZero)
			lw.globals[d.Name] = &binding{elemType: baseType, isArray: true, global: d.Name}
			continue
		}
		val := constScalarInit(d.Init)
		var intInit []int64
		var floatInit []float64
		if baseType == ir.TypeF32 {
			floatInit = []float64{val}
		} else {
			intInit = []int64{int64(val)}
		}
		lw.b.NewGlobal(d.Name, typeSize(baseType), baseType, nil, intInit, floatInit, val == 0)
		lw.globals[d.Name] = &binding{elemType: baseType, global: d.Name}
	}
}

func constIntOf(s *string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(*s, 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func constScalarInit(init *Initializer) float64 {
	if init == nil || init.Single == nil {
		return 0
	}
	v, ok := constEval(init.Single)
	if !ok {
		return 0
	}
	return v
}

func evalArrayInit(init *Initializer, t ir.Type, n int) ([]int64, []float64, bool) {
	if n < 0 {
		n = 0
	}
	var values []*Initializer
	if init != nil && init.List != nil {
		values = init.List.Values
	}
	allZero := true
	if t == ir.TypeF32 {
		out := make([]float64, n)
		for i, elem := range values {
			if i >= n || elem.Single == nil {
				continue
			}
			if v, ok := constEval(elem.Single); ok {
				out[i] = v
			}
		}
		for _, v := range out {
			if v != 0 {
				allZero = false
			}
		}
		return nil, out, allZero
	}
	out := make([]int64, n)
	for i, elem := range values {
		if i >= n || elem.Single == nil {
			continue
		}
		if v, ok := constEval(elem.Single); ok {
			out[i] = int64(v)
		}
	}
	for _, v := range out {
		if v != 0 {
			allZero = false
		}
	}
	return out, nil, allZero
}

// constEval evaluates a source-level constant expression — literals plus
// unary/binary +,-,*,/,% over them — used only for global initializers.
// References to other globals are deliberately not resolved here: folding
// those is the downstream optimizer's job (RegularFold/RangeAwareFold), not
// the front-end's.
func constEval(e *Expr) (float64, bool) {
	v, ok := constEvalUnary(e.Left)
	if !ok {
		return 0, false
	}
	values := []float64{v}
	ops := make([]string, 0, len(e.Ops))
	for _, op := range e.Ops {
		rv, ok2 := constEvalUnary(op.Right)
		if !ok2 {
			return 0, false
		}
		values = append(values, rv)
		ops = append(ops, op.Operator)
	}
	// Same leftmost-highest-precedence reduction as resolvePrecedence.
	for len(ops) > 0 {
		best := 0
		for i := 1; i < len(ops); i++ {
			if precedence[ops[i]] > precedence[ops[best]] {
				best = i
			}
		}
		r, ok := applyConstBin(ops[best], values[best], values[best+1])
		if !ok {
			return 0, false
		}
		values = append(append(values[:best:best], r), values[best+2:]...)
		ops = append(ops[:best:best], ops[best+1:]...)
	}
	return values[0], true
}

func constEvalUnary(u *UnaryExpr) (float64, bool) {
	v, ok := constEvalPostfix(u.Value)
	if !ok {
		return 0, false
	}
	switch u.Operator {
	case "-":
		return -v, true
	case "!":
		if v == 0 {
			return 1, true
		}
		return 0, true
	default:
		return v, true
	}
}

func constEvalPostfix(p *PostfixExpr) (float64, bool) {
	if p.Index != nil {
		return 0, false
	}
	return constEvalPrimary(p.Primary)
}

func constEvalPrimary(p *PrimaryExpr) (float64, bool) {
	switch {
	case p.Int != nil:
		v, err := strconv.ParseInt(*p.Int, 0, 64)
		if err != nil {
			return 0, false
		}
		return float64(v), true
	case p.Float != nil:
		v, err := strconv.ParseFloat(*p.Float, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case p.Paren != nil:
		return constEval(p.Paren)
	default:
		return 0, false
	}
}

func applyConstBin(op string, a, b float64) (float64, bool) {
	switch op {
	case "+":
		return a + b, true
	case "-":
		return a - b, true
	case "*":
		return a * b, true
	case "/":
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case "%":
		if b == 0 {
			return 0, false
		}
		return float64(int64(a) % int64(b)), true
	default:
		return 0, false
	}
}

// --- per-function lowering -------------------------------------------------

type funcCtx struct {
	lw        *lowerer
	fid       ir.FuncID
	retType   ir.Type
	loopStack []*loopFrame
}

// loopFrame.onContinue is non-nil only for a desugared general for-loop,
// whose step clause a "continue;" must replay before jumping to the latch —
// canonical ascending for-loops lower straight to OpFor and need no replay,
// since Flatten's own latch synthesis already runs the increment there.
type loopFrame struct {
	onContinue func() error
}

func (fc *funcCtx) currentLoop() *loopFrame {
	if len(fc.loopStack) == 0 {
		return nil
	}
	return fc.loopStack[len(fc.loopStack)-1]
}

func (fc *funcCtx) resolve(name string, sc *scope) (*binding, bool) {
	if b, ok := sc.lookup(name); ok {
		return b, true
	}
	if b, ok := fc.lw.globals[name]; ok {
		return b, true
	}
	return nil, false
}

func (fc *funcCtx) addrOf(b *binding) ir.OpID {
	if b.global != "" {
		return fc.lw.b.Create(ir.OpGetGlobal, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrName: {Kind: ir.AttrName, Name: b.global},
		})
	}
	return b.addr
}

func (fc *funcCtx) zeroOf(t ir.Type) ir.OpID {
	if t == ir.TypeF32 {
		return fc.lw.b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: 0}})
	}
	return fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
}

func (fc *funcCtx) constOne(t ir.Type) ir.OpID {
	if t == ir.TypeF32 {
		return fc.lw.b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: 1}})
	}
	return fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
}

// --- statements --------------------------------------------------------

// lowerBlock returns terminated=true once a statement unconditionally
// exits the block (break/continue/return, or an if/else whose every arm
// does); later statements in the same block are simply not lowered, the
// way Flatten's own move-to-end-and-stop convention treats dead tails.
func (fc *funcCtx) lowerBlock(blk *Block, parent *scope) (bool, error) {
	sc := newScope(parent)
	for _, st := range blk.Stmts {
		term, err := fc.lowerStmt(st, sc)
		if err != nil {
			return false, err
		}
		if term {
			return true, nil
		}
	}
	return false, nil
}

func (fc *funcCtx) lowerStmt(st *Stmt, sc *scope) (bool, error) {
	switch {
	case st.Block != nil:
		return fc.lowerBlock(st.Block, sc)
	case st.If != nil:
		return fc.lowerIf(st.If, sc)
	case st.While != nil:
		return fc.lowerWhile(st.While, sc)
	case st.For != nil:
		return fc.lowerFor(st.For, sc)
	case st.Break != nil:
		fc.lw.b.Create(ir.OpBreak, ir.TypeVoid, nil, nil)
		return true, nil
	case st.Continue != nil:
		if lf := fc.currentLoop(); lf != nil && lf.onContinue != nil {
			if err := lf.onContinue(); err != nil {
				return false, err
			}
		}
		fc.lw.b.Create(ir.OpContinue, ir.TypeVoid, nil, nil)
		return true, nil
	case st.Return != nil:
		if st.Return.Expr != nil {
			v, err := fc.lowerExpr(st.Return.Expr, sc)
			if err != nil {
				return false, err
			}
			v = fc.coerceTo(v, fc.retType)
			fc.lw.b.Create(ir.OpReturn, ir.TypeVoid, []ir.OpID{v}, nil)
		} else {
			fc.lw.b.Create(ir.OpReturn, ir.TypeVoid, nil, nil)
		}
		return true, nil
	case st.VarDecl != nil:
		return false, fc.lowerLocalDecl(st.VarDecl, sc)
	case st.Assign != nil:
		return false, fc.lowerAssign(st.Assign, sc)
	case st.Expr != nil:
		_, err := fc.lowerExpr(st.Expr.Expr, sc)
		return false, err
	}
	return false, nil
}

func (fc *funcCtx) lowerLocalDecl(v *VarDecl, sc *scope) error {
	baseType := typeOf(v.Type.Name)
	for _, d := range v.Decls {
		if len(d.Dims) > 1 {
			return fmt.Errorf("%q: multi-dimensional arrays are not supported", d.Name)
		}
		if len(d.Dims) == 1 {
			n, ok := constIntOf(d.Dims[0].Size)
			if !ok {
				return fmt.Errorf("%q: array dimension must be a constant", d.Name)
			}
			alloca := fc.lw.b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
				ir.AttrSize:      {Kind: ir.AttrSize, Size: n * 4},
				ir.AttrFP:        {Kind: ir.AttrFP, Bool: baseType == ir.TypeF32},
				ir.AttrDimension: {Kind: ir.AttrDimension, Dims: []int64{n}},
			})
			sc.vars[d.Name] = &binding{addr: alloca, elemType: baseType, isArray: true}
			if d.Init != nil {
				if err := fc.lowerArrayInitStores(alloca, d.Init, baseType, int(n), sc); err != nil {
					return err
				}
			}
			continue
		}
		alloca := fc.lw.b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(baseType)},
			ir.AttrFP:   {Kind: ir.AttrFP, Bool: baseType == ir.TypeF32},
		})
		sc.vars[d.Name] = &binding{addr: alloca, elemType: baseType}
		if d.Init != nil && d.Init.Single != nil {
			val, err := fc.lowerExpr(d.Init.Single, sc)
			if err != nil {
				return err
			}
			val = fc.coerceTo(val, baseType)
			fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{alloca, val}, nil)
		}
	}
	return nil
}

func (fc *funcCtx) lowerArrayInitStores(alloca ir.OpID, init *Initializer, elemType ir.Type, n int, sc *scope) error {
	if init.List == nil {
		return fmt.Errorf("array initializer must be a brace list")
	}
	for i, elem := range init.List.Values {
		if i >= n || elem.Single == nil {
			continue
		}
		val, err := fc.lowerExpr(elem.Single, sc)
		if err != nil {
			return err
		}
		val = fc.coerceTo(val, elemType)
		idx := fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: int64(i)}})
		addr := fc.arrayElemAddr(alloca, idx)
		fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, val}, nil)
	}
	return nil
}

func (fc *funcCtx) lowerAssign(a *AssignStmt, sc *scope) error {
	bnd, ok := fc.resolve(a.Target.Name, sc)
	if !ok {
		return fmt.Errorf("undeclared variable %q", a.Target.Name)
	}
	var addr ir.OpID
	elemType := bnd.elemType
	if a.Target.Index != nil {
		if !bnd.isArray {
			return fmt.Errorf("%q is not an array", a.Target.Name)
		}
		idx, err := fc.lowerExpr(a.Target.Index, sc)
		if err != nil {
			return err
		}
		idx = fc.coerceTo(idx, ir.TypeI32)
		addr = fc.arrayElemAddr(fc.addrOf(bnd), idx)
	} else {
		if bnd.isArray {
			return fmt.Errorf("%q is an array; assignment requires an index", a.Target.Name)
		}
		addr = fc.addrOf(bnd)
	}

	rhs, err := fc.lowerExpr(a.Value, sc)
	if err != nil {
		return err
	}
	rhs = fc.coerceTo(rhs, elemType)

	if a.Op != "=" {
		cur := fc.lw.b.Create(ir.OpLoad, elemType, []ir.OpID{addr}, nil)
		rhs = fc.emitBinOp(strings.TrimSuffix(a.Op, "="), cur, rhs)
	}
	fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, rhs}, nil)
	return nil
}

func (fc *funcCtx) lowerCompoundAssignTo(name, op string, rhs *Expr, sc *scope) error {
	return fc.lowerAssign(&AssignStmt{Target: &LValue{Name: name}, Op: op, Value: rhs}, sc)
}

// --- structured control flow ---------------------------------------------

func (fc *funcCtx) lowerIf(ifs *IfStmt, sc *scope) (bool, error) {
	condVal, err := fc.lowerExpr(ifs.Cond, sc)
	if err != nil {
		return false, err
	}
	condVal = fc.truthy(condVal, fc.lw.m.Op(condVal).Type)

	parentCursor := fc.lw.b.Cursor()

	thenRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	thenBlock := fc.lw.b.NewBlockIn(thenRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(thenBlock))
	thenTerm, err := fc.lowerStmt(ifs.Then, sc)
	if err != nil {
		return false, err
	}

	elseRegion := ir.InvalidRegion
	elseTerm := false
	hasElse := ifs.Else != nil
	if hasElse {
		elseRegion = fc.lw.b.NewRegionFor(ir.InvalidOp)
		elseBlock := fc.lw.b.NewBlockIn(elseRegion, "")
		fc.lw.b.SetCursor(ir.AtBlockEnd(elseBlock))
		elseTerm, err = fc.lowerStmt(ifs.Else, sc)
		if err != nil {
			return false, err
		}
	}

	fc.lw.b.SetCursor(parentCursor)
	ifID := fc.lw.b.Create(ir.OpIf, ir.TypeVoid, []ir.OpID{condVal}, nil)
	fc.lw.m.Op(ifID).Regions = []ir.RegionID{thenRegion, elseRegion}
	fc.lw.m.Region(thenRegion).OwnerOp = ifID
	if elseRegion.Valid() {
		fc.lw.m.Region(elseRegion).OwnerOp = ifID
	}

	return hasElse && thenTerm && elseTerm, nil
}

func (fc *funcCtx) lowerWhile(ws *WhileStmt, sc *scope) (bool, error) {
	parentCursor := fc.lw.b.Cursor()

	condRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	condBlock := fc.lw.b.NewBlockIn(condRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(condBlock))
	condVal, err := fc.lowerExpr(ws.Cond, sc)
	if err != nil {
		return false, err
	}
	fc.truthy(condVal, fc.lw.m.Op(condVal).Type)

	bodyRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	bodyBlock := fc.lw.b.NewBlockIn(bodyRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(bodyBlock))
	fc.loopStack = append(fc.loopStack, &loopFrame{})
	_, err = fc.lowerStmt(ws.Body, sc)
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
	if err != nil {
		return false, err
	}

	fc.lw.b.SetCursor(parentCursor)
	whileID := fc.lw.b.Create(ir.OpWhile, ir.TypeVoid, nil, nil)
	fc.lw.m.Op(whileID).Regions = []ir.RegionID{condRegion, bodyRegion}
	fc.lw.m.Region(condRegion).OwnerOp = whileID
	fc.lw.m.Region(bodyRegion).OwnerOp = whileID
	return false, nil
}

// canonicalFor is the shape lowerFor promotes directly to OpFor, with no
// intermediate OpWhile for structured/raise_to_for.go to later recognize:
// "for (TYPE? name = init; name < bound; name++ | name += K)" with K a
// positive compile-time constant.
type canonicalFor struct {
	declType *TypeName
	name     string
	initVal  *Expr
	bound    *Expr
	step     int64
}

func matchCanonicalFor(f *ForStmt) (*canonicalFor, bool) {
	if f.Init == nil || f.Cond == nil || f.Step == nil {
		return nil, false
	}
	if len(f.Cond.Ops) != 1 || f.Cond.Ops[0].Operator != "<" {
		return nil, false
	}
	id, ok := identOfUnary(f.Cond.Left)
	if !ok || id != f.Init.Target {
		return nil, false
	}
	var step int64
	switch {
	case f.Step.IncDec != nil && f.Step.IncDec.Target == f.Init.Target && f.Step.IncDec.Op == "++":
		step = 1
	case f.Step.Assign != nil && f.Step.Assign.Target == f.Init.Target && f.Step.Assign.Op == "+=":
		v, ok := intLitOf(f.Step.Assign.Value)
		if !ok || v <= 0 {
			return nil, false
		}
		step = v
	default:
		return nil, false
	}
	return &canonicalFor{
		declType: f.Init.Type,
		name:     f.Init.Target,
		initVal:  f.Init.Value,
		bound:    &Expr{Left: f.Cond.Ops[0].Right},
		step:     step,
	}, true
}

func identOfUnary(u *UnaryExpr) (string, bool) {
	if u.Operator != "" || u.Value.Index != nil {
		return "", false
	}
	p := u.Value.Primary
	if p == nil || p.Ident == nil {
		return "", false
	}
	return *p.Ident, true
}

func intLitOf(e *Expr) (int64, bool) {
	if len(e.Ops) != 0 {
		return 0, false
	}
	u := e.Left
	if u.Operator != "" && u.Operator != "-" {
		return 0, false
	}
	if u.Value.Index != nil {
		return 0, false
	}
	p := u.Value.Primary
	if p == nil || p.Int == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(*p.Int, 0, 64)
	if err != nil {
		return 0, false
	}
	if u.Operator == "-" {
		v = -v
	}
	return v, true
}

func (fc *funcCtx) lowerFor(f *ForStmt, parentSc *scope) (bool, error) {
	sc := newScope(parentSc)
	if canon, ok := matchCanonicalFor(f); ok {
		return fc.lowerCanonicalFor(f, canon, sc)
	}
	return fc.lowerGeneralFor(f, sc)
}

func (fc *funcCtx) lowerCanonicalFor(f *ForStmt, c *canonicalFor, sc *scope) (bool, error) {
	var alloca ir.OpID
	var elemType ir.Type
	if c.declType != nil {
		elemType = typeOf(c.declType.Name)
		alloca = fc.lw.b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(elemType)},
			ir.AttrFP:   {Kind: ir.AttrFP, Bool: elemType == ir.TypeF32},
		})
		sc.vars[c.name] = &binding{addr: alloca, elemType: elemType}
	} else {
		bnd, ok := fc.resolve(c.name, sc)
		if !ok {
			return false, fmt.Errorf("for-loop: undeclared induction variable %q", c.name)
		}
		alloca = fc.addrOf(bnd)
		elemType = bnd.elemType
	}

	initVal, err := fc.lowerExpr(c.initVal, sc)
	if err != nil {
		return false, err
	}
	initVal = fc.coerceTo(initVal, elemType)
	fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{alloca, initVal}, nil)

	boundVal, err := fc.lowerExpr(c.bound, sc)
	if err != nil {
		return false, err
	}
	boundVal = fc.coerceTo(boundVal, ir.TypeI32)

	parentCursor := fc.lw.b.Cursor()
	bodyRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	bodyBlock := fc.lw.b.NewBlockIn(bodyRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(bodyBlock))
	fc.loopStack = append(fc.loopStack, &loopFrame{})
	_, err = fc.lowerStmt(f.Body, sc)
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
	if err != nil {
		return false, err
	}

	fc.lw.b.SetCursor(parentCursor)
	forID := fc.lw.b.Create(ir.OpFor, ir.TypeVoid, []ir.OpID{alloca, boundVal}, ir.AttrMap{
		ir.AttrInt: {Kind: ir.AttrInt, Int: c.step},
	})
	fc.lw.m.Op(forID).Regions = []ir.RegionID{bodyRegion}
	fc.lw.m.Region(bodyRegion).OwnerOp = forID
	return false, nil
}

// lowerGeneralFor desugars any for-loop that doesn't match the canonical
// ascending shape (descending, multi-variable, or a complex step) into
// "init; while (cond) { body; step }", replaying step from every continue.
func (fc *funcCtx) lowerGeneralFor(f *ForStmt, sc *scope) (bool, error) {
	if f.Init != nil {
		if err := fc.lowerForInit(f.Init, sc); err != nil {
			return false, err
		}
	}

	parentCursor := fc.lw.b.Cursor()
	condRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	condBlock := fc.lw.b.NewBlockIn(condRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(condBlock))
	if f.Cond != nil {
		v, err := fc.lowerExpr(f.Cond, sc)
		if err != nil {
			return false, err
		}
		fc.truthy(v, fc.lw.m.Op(v).Type)
	} else {
		fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 1}})
	}

	bodyRegion := fc.lw.b.NewRegionFor(ir.InvalidOp)
	bodyBlock := fc.lw.b.NewBlockIn(bodyRegion, "")
	fc.lw.b.SetCursor(ir.AtBlockEnd(bodyBlock))

	emitStep := func() error {
		if f.Step == nil {
			return nil
		}
		return fc.lowerForStep(f.Step, sc)
	}
	fc.loopStack = append(fc.loopStack, &loopFrame{onContinue: emitStep})
	term, err := fc.lowerStmt(f.Body, sc)
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
	if err != nil {
		return false, err
	}
	if !term {
		if err := emitStep(); err != nil {
			return false, err
		}
	}

	fc.lw.b.SetCursor(parentCursor)
	whileID := fc.lw.b.Create(ir.OpWhile, ir.TypeVoid, nil, nil)
	fc.lw.m.Op(whileID).Regions = []ir.RegionID{condRegion, bodyRegion}
	fc.lw.m.Region(condRegion).OwnerOp = whileID
	fc.lw.m.Region(bodyRegion).OwnerOp = whileID
	return false, nil
}

func (fc *funcCtx) lowerForInit(init *ForInit, sc *scope) error {
	val, err := fc.lowerExpr(init.Value, sc)
	if err != nil {
		return err
	}
	if init.Type != nil {
		elemType := typeOf(init.Type.Name)
		alloca := fc.lw.b.Create(ir.OpAlloca, ir.TypeI64, nil, ir.AttrMap{
			ir.AttrSize: {Kind: ir.AttrSize, Size: typeSize(elemType)},
			ir.AttrFP:   {Kind: ir.AttrFP, Bool: elemType == ir.TypeF32},
		})
		val = fc.coerceTo(val, elemType)
		fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{alloca, val}, nil)
		sc.vars[init.Target] = &binding{addr: alloca, elemType: elemType}
		return nil
	}
	bnd, ok := fc.resolve(init.Target, sc)
	if !ok {
		return fmt.Errorf("for-loop init: undeclared variable %q", init.Target)
	}
	val = fc.coerceTo(val, bnd.elemType)
	fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{fc.addrOf(bnd), val}, nil)
	return nil
}

func (fc *funcCtx) lowerForStep(step *ForStep, sc *scope) error {
	switch {
	case step.IncDec != nil:
		bnd, ok := fc.resolve(step.IncDec.Target, sc)
		if !ok {
			return fmt.Errorf("undeclared variable %q", step.IncDec.Target)
		}
		addr := fc.addrOf(bnd)
		cur := fc.lw.b.Create(ir.OpLoad, bnd.elemType, []ir.OpID{addr}, nil)
		one := fc.constOne(bnd.elemType)
		op := "+"
		if step.IncDec.Op == "--" {
			op = "-"
		}
		res := fc.emitBinOp(op, cur, one)
		fc.lw.b.Create(ir.OpStore, ir.TypeVoid, []ir.OpID{addr, res}, nil)
		return nil
	case step.Assign != nil:
		return fc.lowerCompoundAssignTo(step.Assign.Target, step.Assign.Op, step.Assign.Value, sc)
	}
	return nil
}

// --- expressions ---------------------------------------------------------

var precedence = map[string]int{
	"||": 1, "&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (fc *funcCtx) lowerExpr(e *Expr, sc *scope) (ir.OpID, error) {
	left, err := fc.lowerUnary(e.Left, sc)
	if err != nil {
		return ir.InvalidOp, err
	}
	if len(e.Ops) == 0 {
		return left, nil
	}
	values := []ir.OpID{left}
	ops := make([]string, 0, len(e.Ops))
	for _, bo := range e.Ops {
		rv, err := fc.lowerUnary(bo.Right, sc)
		if err != nil {
			return ir.InvalidOp, err
		}
		values = append(values, rv)
		ops = append(ops, bo.Operator)
	}
	return fc.resolvePrecedence(values, ops), nil
}

// resolvePrecedence folds an already-lowered flat operand/operator chain
// into a single value, repeatedly reducing the leftmost highest-precedence
// pair — a non-recursive precedence climb suited to a chain that's already
// fully parsed rather than a token stream.
func (fc *funcCtx) resolvePrecedence(values []ir.OpID, ops []string) ir.OpID {
	for len(ops) > 0 {
		best := 0
		for i := 1; i < len(ops); i++ {
			if precedence[ops[i]] > precedence[ops[best]] {
				best = i
			}
		}
		result := fc.emitBinOp(ops[best], values[best], values[best+1])
		newValues := append([]ir.OpID{}, values[:best]...)
		newValues = append(newValues, result)
		newValues = append(newValues, values[best+2:]...)
		newOps := append([]string{}, ops[:best]...)
		newOps = append(newOps, ops[best+1:]...)
		values, ops = newValues, newOps
	}
	return values[0]
}

func (fc *funcCtx) emitBinOp(op string, a, b ir.OpID) ir.OpID {
	at := fc.lw.m.Op(a).Type
	bt := fc.lw.m.Op(b).Type

	if op == "&&" || op == "||" {
		na := fc.truthy(a, at)
		nb := fc.truthy(b, bt)
		if op == "&&" {
			return fc.lw.b.Create(ir.OpAndI, ir.TypeI32, []ir.OpID{na, nb}, nil)
		}
		return fc.lw.b.Create(ir.OpOrI, ir.TypeI32, []ir.OpID{na, nb}, nil)
	}
	if op == "%" {
		av, bv := fc.toInt(a, at), fc.toInt(b, bt)
		return fc.lw.b.Create(ir.OpModI, ir.TypeI32, []ir.OpID{av, bv}, nil)
	}

	isFloat := at == ir.TypeF32 || bt == ir.TypeF32
	av, bv := a, b
	if isFloat {
		av, bv = fc.toFloat(a, at), fc.toFloat(b, bt)
	}

	type pair struct{ i, f ir.Opcode }
	kinds := map[string]pair{
		"+":  {ir.OpAddI, ir.OpAddF},
		"-":  {ir.OpSubI, ir.OpSubF},
		"*":  {ir.OpMulI, ir.OpMulF},
		"/":  {ir.OpDivI, ir.OpDivF},
		"==": {ir.OpEqI, ir.OpEqF},
		"!=": {ir.OpNeI, ir.OpNeF},
		"<":  {ir.OpLtI, ir.OpLtF},
		"<=": {ir.OpLeI, ir.OpLeF},
		">":  {ir.OpGtI, ir.OpGtF},
		">=": {ir.OpGeI, ir.OpGeF},
	}
	k, ok := kinds[op]
	if !ok {
		return av
	}
	resultType := ir.TypeI32
	opcode := k.i
	if isFloat {
		opcode = k.f
		if op == "+" || op == "-" || op == "*" || op == "/" {
			resultType = ir.TypeF32
		}
	}
	return fc.lw.b.Create(opcode, resultType, []ir.OpID{av, bv}, nil)
}

// truthy normalizes v (of type t) to a canonical 0/1 i32 via a "!= 0"
// comparison against a matching-type zero constant. OpIf/OpWhile's
// conditions are consumed as-is with no implicit nonzero-is-true coercion
// by Flatten, so the front end guarantees the canonical form itself.
func (fc *funcCtx) truthy(v ir.OpID, t ir.Type) ir.OpID {
	if t == ir.TypeF32 {
		zero := fc.lw.b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: 0}})
		return fc.lw.b.Create(ir.OpNeF, ir.TypeI32, []ir.OpID{v, zero}, nil)
	}
	zero := fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
	return fc.lw.b.Create(ir.OpNeI, ir.TypeI32, []ir.OpID{v, zero}, nil)
}

func (fc *funcCtx) toFloat(v ir.OpID, t ir.Type) ir.OpID {
	if t == ir.TypeF32 {
		return v
	}
	return fc.lw.b.Create(ir.OpIntToFloat, ir.TypeF32, []ir.OpID{v}, nil)
}

func (fc *funcCtx) toInt(v ir.OpID, t ir.Type) ir.OpID {
	if t != ir.TypeF32 {
		return v
	}
	return fc.lw.b.Create(ir.OpFloatToInt, ir.TypeI32, []ir.OpID{v}, nil)
}

func (fc *funcCtx) coerceTo(v ir.OpID, target ir.Type) ir.OpID {
	vt := fc.lw.m.Op(v).Type
	if vt == target {
		return v
	}
	if target == ir.TypeF32 {
		return fc.toFloat(v, vt)
	}
	if target == ir.TypeI32 || target == ir.TypeI64 {
		return fc.toInt(v, vt)
	}
	return v
}

func (fc *funcCtx) lowerUnary(u *UnaryExpr, sc *scope) (ir.OpID, error) {
	v, err := fc.lowerPostfix(u.Value, sc)
	if err != nil {
		return ir.InvalidOp, err
	}
	switch u.Operator {
	case "-":
		t := fc.lw.m.Op(v).Type
		if t == ir.TypeF32 {
			return fc.lw.b.Create(ir.OpNegF, ir.TypeF32, []ir.OpID{v}, nil), nil
		}
		return fc.lw.b.Create(ir.OpNegI, ir.TypeI32, []ir.OpID{v}, nil), nil
	case "!":
		t := fc.lw.m.Op(v).Type
		nz := fc.truthy(v, t)
		zero := fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 0}})
		return fc.lw.b.Create(ir.OpEqI, ir.TypeI32, []ir.OpID{nz, zero}, nil), nil
	default:
		return v, nil
	}
}

func (fc *funcCtx) lowerPostfix(p *PostfixExpr, sc *scope) (ir.OpID, error) {
	if p.Index != nil {
		name, ok := primaryIdent(p.Primary)
		if !ok {
			return ir.InvalidOp, fmt.Errorf("array indexing is only supported on a plain variable")
		}
		bnd, ok := fc.resolve(name, sc)
		if !ok {
			return ir.InvalidOp, fmt.Errorf("undeclared variable %q", name)
		}
		if !bnd.isArray {
			return ir.InvalidOp, fmt.Errorf("%q is not an array", name)
		}
		idx, err := fc.lowerExpr(p.Index, sc)
		if err != nil {
			return ir.InvalidOp, err
		}
		idx = fc.coerceTo(idx, ir.TypeI32)
		addr := fc.arrayElemAddr(fc.addrOf(bnd), idx)
		return fc.lw.b.Create(ir.OpLoad, bnd.elemType, []ir.OpID{addr}, nil), nil
	}
	return fc.lowerPrimary(p.Primary, sc)
}

func primaryIdent(p *PrimaryExpr) (string, bool) {
	if p.Ident == nil {
		return "", false
	}
	return *p.Ident, true
}

func (fc *funcCtx) lowerPrimary(p *PrimaryExpr, sc *scope) (ir.OpID, error) {
	switch {
	case p.Call != nil:
		return fc.lowerCall(p.Call, sc)
	case p.Int != nil:
		v, err := strconv.ParseInt(*p.Int, 0, 64)
		if err != nil {
			return ir.InvalidOp, fmt.Errorf("invalid integer literal %q", *p.Int)
		}
		return fc.lw.b.Create(ir.OpIntConst, ir.TypeI32, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: v}}), nil
	case p.Float != nil:
		v, err := strconv.ParseFloat(*p.Float, 64)
		if err != nil {
			return ir.InvalidOp, fmt.Errorf("invalid float literal %q", *p.Float)
		}
		return fc.lw.b.Create(ir.OpFloatConst, ir.TypeF32, nil, ir.AttrMap{ir.AttrFloat: {Kind: ir.AttrFloat, Float: v}}), nil
	case p.Ident != nil:
		bnd, ok := fc.resolve(*p.Ident, sc)
		if !ok {
			return ir.InvalidOp, fmt.Errorf("undeclared variable %q", *p.Ident)
		}
		if bnd.isArray {
			return fc.addrOf(bnd), nil
		}
		return fc.lw.b.Create(ir.OpLoad, bnd.elemType, []ir.OpID{fc.addrOf(bnd)}, nil), nil
	case p.Paren != nil:
		return fc.lowerExpr(p.Paren, sc)
	}
	return ir.InvalidOp, fmt.Errorf("empty primary expression")
}

// arrayElemAddr computes base + idx*4, the shape synth_const_array.go's
// matchArrayAddress requires (index used as-is with no widening cast, base
// exactly an OpAlloca/OpGetGlobal/array-param pointer).
func (fc *funcCtx) arrayElemAddr(base, idx ir.OpID) ir.OpID {
	stride := fc.lw.b.Create(ir.OpIntConst, ir.TypeI64, nil, ir.AttrMap{ir.AttrInt: {Kind: ir.AttrInt, Int: 4}})
	mul := fc.lw.b.Create(ir.OpMulL, ir.TypeI64, []ir.OpID{idx, stride}, nil)
	return fc.lw.b.Create(ir.OpAddL, ir.TypeI64, []ir.OpID{mul, base}, nil)
}

func (fc *funcCtx) lowerCall(c *CallExpr, sc *scope) (ir.OpID, error) {
	args := make([]ir.OpID, 0, len(c.Args))
	for _, a := range c.Args {
		v, err := fc.lowerExpr(a, sc)
		if err != nil {
			return ir.InvalidOp, err
		}
		args = append(args, v)
	}
	retType := ir.TypeVoid
	if fid, ok := fc.lw.funcs[c.Name]; ok {
		retType = fc.lw.m.Func(fid).ReturnType
	} else if t, ok := externReturnType[c.Name]; ok {
		retType = t
	} else {
		return ir.InvalidOp, fmt.Errorf("call to undeclared function %q", c.Name)
	}
	return fc.lw.b.Create(ir.OpCall, retType, args, ir.AttrMap{ir.AttrName: {Kind: ir.AttrName, Name: c.Name}}), nil
}
