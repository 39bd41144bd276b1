package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeWriter(t *testing.T) {
	tests := []struct {
		description string
		build       func(w *CodeWriter)
		expect      string
	}{
		{
			description: "line with formatting",
			build: func(w *CodeWriter) {
				w.Line("const unsigned int id = %d;", 7)
			},
			expect: "const unsigned int id = 7;\n",
		},
		{
			description: "scope indents its body",
			build: func(w *CodeWriter) {
				w.Scope("if (id < 10)", func() {
					w.Line("spk[id] = 1;")
				})
			},
			expect: "if (id < 10) {\n    spk[id] = 1;\n}\n",
		},
		{
			description: "nested scopes accumulate indent",
			build: func(w *CodeWriter) {
				w.Scope("for (;;)", func() {
					w.Scope("if (x)", func() {
						w.Line("y++;")
					})
				})
			},
			expect: "for (;;) {\n    if (x) {\n        y++;\n    }\n}\n",
		},
		{
			description: "scope suffix lands after the closing brace",
			build: func(w *CodeWriter) {
				w.ScopeSuffix("typedef struct", " Foo;", func() {
					w.Line("int a;")
				})
			},
			expect: "typedef struct {\n    int a;\n} Foo;\n",
		},
		{
			description: "empty header opens a bare block",
			build: func(w *CodeWriter) {
				w.Scope("", func() {
					w.Line("int tmp = 0;")
				})
			},
			expect: "{\n    int tmp = 0;\n}\n",
		},
		{
			description: "raw re-indents and drops blank lines",
			build: func(w *CodeWriter) {
				w.Scope("if (ok)", func() {
					w.Raw("  a = 1;\n\n\tb = 2;")
				})
			},
			expect: "if (ok) {\n    a = 1;\n    b = 2;\n}\n",
		},
	}
	for _, tc := range tests {
		w := NewCodeWriter()
		tc.build(w)
		assert.Equal(t, tc.expect, w.String(), tc.description)
		assert.Equal(t, len(tc.expect), w.Len(), tc.description)
	}
}
