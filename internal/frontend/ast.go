package frontend

import "github.com/alecthomas/participle/v2/lexer"

// Program is the grammar's start symbol: a sequence of top-level global
// variable and function declarations, in declaration order, captured as a
// flat slice of alternatives with repeated @@*.
type Program struct {
	Pos   lexer.Position
	Decls []*TopLevel `@@*`
}

type TopLevel struct {
	Pos  lexer.Position
	Func *FuncDecl `  @@`
	Var  *VarDecl  `| @@`
}

// TypeName matches the three scalar type keywords this subset supports.
type TypeName struct {
	Pos  lexer.Position
	Name string `@("int" | "float" | "void")`
}

// VarDecl is a global or local declaration statement: a type followed by one
// or more comma-separated declarators, e.g. "int a, b[10], c = 3;".
type VarDecl struct {
	Pos   lexer.Position
	Type  *TypeName     `@@`
	Decls []*Declarator `@@ { "," @@ } ";"`
}

type Declarator struct {
	Pos  lexer.Position
	Name string      `@Ident`
	Dims []*ArrayDim `{ @@ }`
	Init *Initializer `[ "=" @@ ]`
}

// ArrayDim is one "[N]" or "[]" suffix. Size is nil for an unsized
// declarator dimension (only legal on function-parameter arrays).
type ArrayDim struct {
	Pos  lexer.Position
	Size *string `"[" [ @Int ] "]"`
}

// Initializer is either a plain expression or a braced list, covering both
// scalar ("= 3") and array ("= {1, 2, 3}") initializers.
type Initializer struct {
	Pos    lexer.Position
	List   *InitList `  @@`
	Single *Expr     `| @@`
}

type InitList struct {
	Pos    lexer.Position
	Values []*Initializer `"{" [ @@ { "," @@ } [ "," ] ] "}"`
}

type FuncDecl struct {
	Pos    lexer.Position
	Return *TypeName `@@`
	Name   string    `@Ident "("`
	Params []*Param  `[ @@ { "," @@ } ] ")"`
	Body   *Block    `@@`
}

// Param is a function parameter; Dims is empty for a scalar and one element
// for an array parameter (C-style array-parameter decay: the size, if any,
// inside the brackets is accepted but ignored by lowering).
type Param struct {
	Pos  lexer.Position
	Type *TypeName   `@@`
	Name string      `@Ident`
	Dims []*ArrayDim `{ @@ }`
}

type Block struct {
	Pos   lexer.Position
	Stmts []*Stmt `"{" @@* "}"`
}

// Stmt is the statement alternation. Order matters for participle's
// backtracking: more specific leading keywords are tried before the bare
// ExprStmt/VarDecl fallbacks.
type Stmt struct {
	Pos      lexer.Position
	Block    *Block        `  @@`
	If       *IfStmt       `| @@`
	While    *WhileStmt    `| @@`
	For      *ForStmt      `| @@`
	Break    *BreakStmt    `| @@`
	Continue *ContinueStmt `| @@`
	Return   *ReturnStmt   `| @@`
	VarDecl  *VarDecl      `| @@`
	Assign   *AssignStmt   `| @@`
	Expr     *ExprStmt     `| @@`
}

type IfStmt struct {
	Pos  lexer.Position
	Cond *Expr `"if" "(" @@ ")"`
	Then *Stmt `@@`
	Else *Stmt `[ "else" @@ ]`
}

type WhileStmt struct {
	Pos  lexer.Position
	Cond *Expr `"while" "(" @@ ")"`
	Body *Stmt `@@`
}

// ForStmt covers the standard three-clause C for loop; each clause is
// individually optional ("for (;;)" is legal).
type ForStmt struct {
	Pos  lexer.Position
	Init *ForInit `"for" "(" [ @@ ] ";"`
	Cond *Expr    `[ @@ ] ";"`
	Step *ForStep `[ @@ ] ")"`
	Body *Stmt    `@@`
}

// ForInit is either a fresh declaration ("int i = 0") or an assignment to an
// existing variable ("i = 0").
type ForInit struct {
	Pos    lexer.Position
	Type   *TypeName `[ @@ ]`
	Target string    `@Ident "="`
	Value  *Expr     `@@`
}

// ForStep is the loop's step clause: an increment/decrement or an
// assignment. Split into two leaf alternatives (rather than one struct with
// an internal three-way field alternation) because participle struct tags
// cannot alternate across fields of the same struct.
type ForStep struct {
	Pos    lexer.Position
	IncDec *IncDecStep `  @@`
	Assign *AssignStep `| @@`
}

type IncDecStep struct {
	Pos    lexer.Position
	Target string `@Ident`
	Op     string `@("++" | "--")`
}

type AssignStep struct {
	Pos    lexer.Position
	Target string `@Ident`
	Op     string `@("=" | "+=" | "-=" | "*=" | "/=" | "%=")`
	Value  *Expr  `@@`
}

type BreakStmt struct {
	Pos   lexer.Position
	Close string `"break" ";"`
}

type ContinueStmt struct {
	Pos   lexer.Position
	Close string `"continue" ";"`
}

type ReturnStmt struct {
	Pos  lexer.Position
	Expr *Expr `"return" [ @@ ] ";"`
}

// AssignStmt is a plain or array-element assignment statement, e.g. "x = 1;"
// or "a[i] = x + 1;". LValue is factored out so array-index and compound
// assignment operators can be reused from ForStep's AssignStep shape.
type AssignStmt struct {
	Pos    lexer.Position
	Target *LValue `@@`
	Op     string  `@("=" | "+=" | "-=" | "*=" | "/=" | "%=")`
	Value  *Expr   `@@ ";"`
}

type LValue struct {
	Pos   lexer.Position
	Name  string `@Ident`
	Index *Expr  `[ "[" @@ "]" ]`
}

type ExprStmt struct {
	Pos  lexer.Position
	Expr *Expr `@@ ";"`
}

// Expr is a flat Left+[]BinOp operator chain — participle's struct tags have
// no precedence-climbing primitive, so Ops is resolved into a precedence
// tree during lowering (see lower.go's resolvePrecedence).
type Expr struct {
	Pos  lexer.Position
	Left *UnaryExpr `@@`
	Ops  []*BinOp   `{ @@ }`
}

type BinOp struct {
	Pos      lexer.Position
	Operator string     `@("||" | "&&" | "==" | "!=" | "<=" | ">=" | "<" | ">" | "+" | "-" | "*" | "/" | "%")`
	Right    *UnaryExpr `@@`
}

type UnaryExpr struct {
	Pos      lexer.Position
	Operator string       `[ @("-" | "!") ]`
	Value    *PostfixExpr `@@`
}

type PostfixExpr struct {
	Pos     lexer.Position
	Primary *PrimaryExpr `@@`
	Index   *Expr        `[ "[" @@ "]" ]`
}

type PrimaryExpr struct {
	Pos    lexer.Position
	Call   *CallExpr `  @@`
	Float  *string   `| @Float`
	Int    *string   `| @Int`
	Ident  *string   `| @Ident`
	Paren  *Expr     `| "(" @@ ")"`
}

type CallExpr struct {
	Pos  lexer.Position
	Name string  `@Ident "("`
	Args []*Expr `[ @@ { "," @@ } ] ")"`
}
