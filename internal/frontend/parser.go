package frontend

import (
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"

	"rvopt/internal/diag"
)

var parser = participle.MustBuild[Program](
	participle.Lexer(Lexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(5),
)

// ParseString parses source (named filename for diagnostics) into a
// Program. Caret rendering for parse errors is routed through
// internal/diag.Reporter rather than printed straight to stdout, since this
// front-end is a library called from cmd/rvopt rather than its own CLI
// entry point.
func ParseString(filename, source string) (*Program, *diag.Reporter, error) {
	prog, err := parser.ParseString(filename, source)
	if err != nil {
		r := &diag.Reporter{}
		pe, ok := err.(participle.Error)
		if !ok {
			r.Add(diag.Diagnostic{Code: diag.ErrParse, Severity: diag.SeverityError, Message: err.Error()})
			return nil, r, err
		}
		pos := pe.Position()
		r.Add(diag.Diagnostic{
			Code:     diag.ErrParse,
			Severity: diag.SeverityError,
			Message:  pe.Message(),
			Line:     pos.Line,
			Column:   pos.Column,
			Source:   sourceLine(source, pos.Line),
		})
		return nil, r, err
	}
	return prog, nil, nil
}

// ParseFile reads path and parses it, the on-disk counterpart to
// ParseString used by cmd/rvopt's default input path.
func ParseFile(path string) (*Program, *diag.Reporter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		r := &diag.Reporter{}
		r.Add(diag.Diagnostic{Code: diag.ErrInputUnreadable, Severity: diag.SeverityError, Message: err.Error()})
		return nil, r, err
	}
	return ParseString(path, string(data))
}

func sourceLine(source string, line int) string {
	lines := strings.Split(source, "\n")
	if line <= 0 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}
