package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Severity distinguishes a fatal diagnostic from a warning.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is one reported problem: a code, message, optional pass name
// (for IR/differential-test diagnostics) and optional source position (for
// front-end diagnostics).
type Diagnostic struct {
	Code     string
	Severity Severity
	Message  string
	Pass     string
	Line     int
	Column   int
	Source   string // the offending source line, for caret rendering
}

// Reporter accumulates diagnostics and renders them: a caret under the
// offending column when a source line is known, otherwise a plain
// "error[code]: message" line.
type Reporter struct {
	diags []Diagnostic
}

func (r *Reporter) Add(d Diagnostic) { r.diags = append(r.diags, d) }

func (r *Reporter) Errorf(code, format string, args ...any) {
	r.Add(Diagnostic{Code: code, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

func (r *Reporter) HasErrors() bool {
	for _, d := range r.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r *Reporter) Diagnostics() []Diagnostic { return r.diags }

// WriteTo renders every accumulated diagnostic to w.
func (r *Reporter) WriteTo(w io.Writer) {
	for _, d := range r.diags {
		render(w, d)
	}
}

func render(w io.Writer, d Diagnostic) {
	prefix := "error"
	if d.Severity == SeverityWarning {
		prefix = "warning"
	}
	if d.Pass != "" {
		fmt.Fprintf(w, "%s[%s] (pass %s): %s\n", prefix, d.Code, d.Pass, d.Message)
	} else {
		fmt.Fprintf(w, "%s[%s]: %s\n", prefix, d.Code, d.Message)
	}
	if d.Source != "" && d.Line > 0 {
		fmt.Fprintf(w, "%4d | %s\n", d.Line, d.Source)
		caret := strings.Repeat(" ", d.Column-1) + "^"
		fmt.Fprintf(w, "     | %s\n", caret)
	}
}

// Wrap annotates err with a message using github.com/pkg/errors, preserving
// the original error's cause for any caller that wants to unwrap it — used
// at the file-I/O and front-end boundaries where spec.md §7 classifies
// failures as user-input errors.
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "[%s] %s", code, message)
}
