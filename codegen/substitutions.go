package codegen

import (
	"fmt"
	"strings"
)

// UnresolvedSubstitutionError reports a $(name) reference with no binding
// anywhere in the chain. It is fatal: substitution never silently defaults
type UnresolvedSubstitutionError struct {
	Name    string
	Context string
}

func (e *UnresolvedSubstitutionError) Error() string {
	return fmt.Sprintf("unresolved substitution $(%s) in %s", e.Name, e.Context)
}

type funcSubstitution struct {
	numArgs  int
	template string
}

// Substitutions is a parent-linked variable binding context. A child inherits
// every binding of its parent and may override names locally; lookups walk
// the chain from child to root. Nested handler invocations thread their
// bindings through child contexts instead of shared mutable state
type Substitutions struct {
	parent *Substitutions
	vars   map[string]string
	funcs  map[string]funcSubstitution
}

// NewSubstitutions creates a context chained to parent; parent may be nil
func NewSubstitutions(parent *Substitutions) *Substitutions {
	return &Substitutions{parent: parent}
}

// AddVar binds $(name) to a code fragment in this context
func (s *Substitutions) AddVar(name, value string) {
	if s.vars == nil {
		s.vars = map[string]string{}
	}
	s.vars[name] = value
}

// AddFunc binds $(name, a0, ...) to a template with $(0), $(1)... argument
// placeholders
func (s *Substitutions) AddFunc(name string, numArgs int, template string) {
	if s.funcs == nil {
		s.funcs = map[string]funcSubstitution{}
	}
	s.funcs[name] = funcSubstitution{numArgs: numArgs, template: template}
}

// Var resolves a variable binding through the chain
func (s *Substitutions) Var(name string) (string, bool) {
	for c := s; c != nil; c = c.parent {
		if v, ok := c.vars[name]; ok {
			return v, true
		}
	}
	return "", false
}

// MustVar resolves a binding that is contractually present; it panics when
// the contract is violated by the caller
func (s *Substitutions) MustVar(name string) string {
	v, ok := s.Var(name)
	if !ok {
		panic(fmt.Sprintf("substitution $(%s) requested but never bound", name))
	}
	return v
}

func (s *Substitutions) fn(name string) (funcSubstitution, bool) {
	for c := s; c != nil; c = c.parent {
		if f, ok := c.funcs[name]; ok {
			return f, true
		}
	}
	return funcSubstitution{}, false
}

// Apply rewrites every $(...) reference in code. context names the equation
// being processed and appears in error diagnostics
func (s *Substitutions) Apply(code, context string) (string, error) {
	return s.apply(code, context, 0)
}

const maxSubstitutionDepth = 32

func (s *Substitutions) apply(code, context string, depth int) (string, error) {
	if depth > maxSubstitutionDepth {
		return "", fmt.Errorf("substitution recursion limit exceeded in %s", context)
	}
	var out strings.Builder
	for i := 0; i < len(code); {
		if code[i] != '$' || i+1 >= len(code) || code[i+1] != '(' {
			out.WriteByte(code[i])
			i++
			continue
		}
		inner, next, ok := scanParens(code, i+2)
		if !ok {
			return "", fmt.Errorf("unterminated $( in %s", context)
		}
		name, args := splitCall(inner)
		replaced, err := s.replace(name, args, context, depth)
		if err != nil {
			return "", err
		}
		out.WriteString(replaced)
		i = next
	}
	return out.String(), nil
}

func (s *Substitutions) replace(name string, args []string, context string, depth int) (string, error) {
	if f, ok := s.fn(name); ok && len(args) == f.numArgs {
		expanded := f.template
		for i := len(args) - 1; i >= 0; i-- {
			arg, err := s.apply(args[i], context, depth+1)
			if err != nil {
				return "", err
			}
			expanded = strings.ReplaceAll(expanded, fmt.Sprintf("$(%d)", i), arg)
		}
		// templates may reference further bindings, e.g. $(rng)
		return s.apply(expanded, context, depth+1)
	}
	if len(args) == 0 {
		if v, ok := s.Var(name); ok {
			return v, nil
		}
	}
	return "", &UnresolvedSubstitutionError{Name: name, Context: context}
}

// scanParens returns the content between code[from] and its matching ')'
// along with the index just past it
func scanParens(code string, from int) (string, int, bool) {
	depth := 1
	for i := from; i < len(code); i++ {
		switch code[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return code[from:i], i + 1, true
			}
		}
	}
	return "", 0, false
}

// splitCall separates $(name, a, b) content into name and top-level args
func splitCall(inner string) (string, []string) {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, inner[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, inner[last:])
	name := strings.TrimSpace(parts[0])
	args := parts[1:]
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return name, args
}
