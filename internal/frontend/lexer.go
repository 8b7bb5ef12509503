// Package frontend implements the minimal C-like front-end of SPEC_FULL.md
// §1: int/float globals and locals (with optional 1-D array dimensions and
// initializers), function definitions, if/else, while, C-style for,
// break/continue/return, assignment and call statements, and a standard
// precedence-climbing expression grammar. It lowers directly to
// internal/ir's structured ops, standing in for "a front-end producing
// well-formed structured IR" the way spec.md §9 treats the real front-end
// as a black box.
//
// Built on a participle/v2 stateful lexer plus struct-tag grammar, with
// embedded lexer.Position on each node and participle.Error-based caret
// diagnostics. The expression grammar parses as a flat Left+[]BinOp chain;
// resolving it into a precedence tree is done by hand since participle's
// struct tags have no native precedence-climbing primitive.
package frontend

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes the C-like subset: comments, floating/integer literals,
// identifiers (keywords are matched as literal strings against Ident
// tokens), operators and punctuation.
var Lexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},
		{"Float", `[0-9]+\.[0-9]*([eE][-+]?[0-9]+)?|\.[0-9]+([eE][-+]?[0-9]+)?|[0-9]+[eE][-+]?[0-9]+`, nil},
		{"Int", `0[xX][0-9a-fA-F]+|[0-9]+`, nil},
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},
		{"Operator", `(==|!=|<=|>=|&&|\|\||\+\+|--|\+=|-=|\*=|/=|%=|[-+*/%=<>!])`, nil},
		{"Punct", `[(){}\[\],;]`, nil},
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})
