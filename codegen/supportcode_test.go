package codegen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupportCodeSetDedup(t *testing.T) {
	s := NewSupportCodeSet("supportNeuronUpdate")
	s.Register("scalar clip(scalar x) { return x > 1.0f ? 1.0f : x; }")
	s.Register("scalar clip(scalar x) { return x > 1.0f ? 1.0f : x; }")
	s.Register("scalar square(scalar x) { return x * x; }")
	s.Register("")
	assert.Equal(t, 2, s.Count())
	assert.False(t, s.Empty())

	w := NewCodeWriter()
	s.Gen(w)
	out := w.String()
	assert.Equal(t, 1, strings.Count(out, "clip"), "identical fragments emit once")
	assert.Equal(t, 1, strings.Count(out, "square"))
	// first-encounter order
	assert.Less(t, strings.Index(out, "clip"), strings.Index(out, "square"))
}

func TestSupportCodeSetNamespace(t *testing.T) {
	first := NewSupportCodeSet("supportPresynapticUpdate")
	first.Register("scalar decay(scalar x) { return x * 0.9f; }")
	second := NewSupportCodeSet("supportPresynapticUpdate")
	second.Register("scalar decay(scalar x) { return x * 0.9f; }")

	ns := first.Namespace("scalar decay(scalar x) { return x * 0.9f; }")
	assert.Equal(t, ns, second.Namespace("scalar decay(scalar x) { return x * 0.9f; }"),
		"namespace is stable across independent runs")
	assert.Regexp(t, regexp.MustCompile(`^supportPresynapticUpdate_[0-9a-f]{16}$`), ns)

	w := NewCodeWriter()
	first.Gen(w)
	assert.Contains(t, w.String(), "namespace "+ns+" {")
}

func TestSupportCodeSetUnregisteredPanics(t *testing.T) {
	s := NewSupportCodeSet("supportSynapseDynamics")
	assert.Panics(t, func() { s.Namespace("never registered") })
}

func TestSupportCodeSetEmpty(t *testing.T) {
	s := NewSupportCodeSet("supportPostsynapticUpdate")
	assert.True(t, s.Empty())
	assert.Equal(t, 0, s.Count())
	w := NewCodeWriter()
	s.Gen(w)
	assert.Equal(t, 0, w.Len())
}
