package codegen

import (
	"fmt"
)

// SupportCodeSet collapses byte-identical support code fragments into a
// single emission each, addressable by a stable namespace name. Equality is
// textual only; no semantic comparison is attempted
type SupportCodeSet struct {
	prefix     string
	namespaces map[string]string
	order      []string
}

// NewSupportCodeSet creates an empty set whose namespaces start with prefix
func NewSupportCodeSet(prefix string) *SupportCodeSet {
	return &SupportCodeSet{
		prefix:     prefix,
		namespaces: map[string]string{},
	}
}

// Register records a fragment. Registering the same text again is a no-op;
// empty fragments are ignored
func (s *SupportCodeSet) Register(code string) {
	if code == "" {
		return
	}
	if _, ok := s.namespaces[code]; ok {
		return
	}
	s.namespaces[code] = fmt.Sprintf("%s_%016x", s.prefix, contentHash([]byte(code)))
	s.order = append(s.order, code)
}

// Namespace returns the identifier assigned to a previously registered
// fragment. Requesting the namespace of an unregistered fragment is a
// programming error in the caller and panics
func (s *SupportCodeSet) Namespace(code string) string {
	ns, ok := s.namespaces[code]
	if !ok {
		panic(fmt.Sprintf("support code namespace requested for unregistered fragment (prefix %s)", s.prefix))
	}
	return ns
}

// Empty reports whether no fragments have been registered
func (s *SupportCodeSet) Empty() bool {
	return len(s.order) == 0
}

// Count returns the number of distinct fragments registered
func (s *SupportCodeSet) Count() int {
	return len(s.order)
}

// Gen emits every distinct fragment once, in first-encounter order, each
// wrapped in its uniquely named enclosing scope
func (s *SupportCodeSet) Gen(w *CodeWriter) {
	for _, code := range s.order {
		w.ScopeSuffix("namespace "+s.namespaces[code], "", func() {
			w.Raw(code)
		})
		w.Blank()
	}
}
