package codegen

import (
	"fmt"
	"strings"
)

// CodeWriter accumulates generated program text with brace-scope indentation
type CodeWriter struct {
	sb     strings.Builder
	indent int
}

// NewCodeWriter returns an empty writer
func NewCodeWriter() *CodeWriter {
	return &CodeWriter{}
}

// Line writes one indented line
func (w *CodeWriter) Line(format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	w.writeIndent()
	w.sb.WriteString(text)
	w.sb.WriteByte('\n')
}

// Raw writes a multi-line block, re-indenting each non-empty line to the
// current level
func (w *CodeWriter) Raw(code string) {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		w.Line("%s", trimmed)
	}
}

// Blank writes an empty line
func (w *CodeWriter) Blank() {
	w.sb.WriteByte('\n')
}

// Scope writes header followed by a braced, indented block
func (w *CodeWriter) Scope(header string, body func()) {
	w.ScopeSuffix(header, "", body)
}

// ScopeSuffix writes a braced block with text appended after the closing
// brace, e.g. ";" for struct declarations
func (w *CodeWriter) ScopeSuffix(header, suffix string, body func()) {
	w.writeIndent()
	if header != "" {
		w.sb.WriteString(header)
		w.sb.WriteByte(' ')
	}
	w.sb.WriteString("{\n")
	w.indent++
	body()
	w.indent--
	w.writeIndent()
	w.sb.WriteString("}")
	w.sb.WriteString(suffix)
	w.sb.WriteByte('\n')
}

// String returns everything written so far
func (w *CodeWriter) String() string {
	return w.sb.String()
}

// Len returns the number of bytes written so far
func (w *CodeWriter) Len() int {
	return w.sb.Len()
}

func (w *CodeWriter) writeIndent() {
	for i := 0; i < w.indent; i++ {
		w.sb.WriteString("    ")
	}
}
