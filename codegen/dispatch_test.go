package codegen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGroup struct {
	index   int
	members []uint
}

func (f fakeGroup) Index() int      { return f.index }
func (f fakeGroup) Name() string    { return fmt.Sprintf("FakeGroup%d", f.index) }
func (f fakeGroup) Size() int       { return len(f.members) }
func (f fakeGroup) Role() Role      { return RoleNeuronUpdate }
func (f fakeGroup) Fields() []Field { return nil }

func fakeWork(g fakeGroup, member int) uint { return g.members[member] }

func TestPadSize(t *testing.T) {
	tests := []struct {
		n, granularity, expect uint
	}{
		{0, 32, 0},
		{1, 32, 32},
		{32, 32, 32},
		{33, 32, 64},
		{100, 32, 128},
		{5, 1, 5},
		{5, 0, 5},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expect, PadSize(tc.n, tc.granularity),
			"PadSize(%d, %d)", tc.n, tc.granularity)
	}
}

func TestGroupRanges(t *testing.T) {
	groups := []fakeGroup{
		{index: 0, members: []uint{100, 10}},
		{index: 1, members: []uint{33}},
	}
	padded := func(g fakeGroup, m int) uint { return PadSize(fakeWork(g, m), 32) }
	var idStart uint
	ranges := GroupRanges(groups, &idStart, padded)
	require.Len(t, ranges, 2)
	// 100 pads to 128, 10 pads to 32, 33 pads to 64
	assert.Equal(t, IDRange{Start: 0, End: 160}, ranges[0])
	assert.Equal(t, IDRange{Start: 160, End: 224}, ranges[1])
	assert.Equal(t, uint(224), idStart, "scan position advances past the last group")

	// contiguity
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].End, ranges[i].Start)
	}
}

func TestMemberStartIDs(t *testing.T) {
	g := fakeGroup{members: []uint{100, 10, 5}}
	padded := func(g fakeGroup, m int) uint { return PadSize(fakeWork(g, m), 32) }
	ids := MemberStartIDs(g, 64, padded)
	assert.EqualValues(t, []uint{64, 192, 224}, ids)
}

func TestGenParallelGroup(t *testing.T) {
	groups := []fakeGroup{
		{index: 0, members: []uint{64}},
		{index: 1, members: []uint{32}},
		{index: 2, members: []uint{}},
		{index: 3, members: []uint{96}},
	}
	w := NewCodeWriter()
	var idStart uint
	var visited []int
	err := GenParallelGroup(w, groups, &idStart, fakeWork,
		func(w *CodeWriter, g fakeGroup, r IDRange) error {
			visited = append(visited, g.index)
			w.Line("// body %d", g.index)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, visited, "empty groups are skipped")
	assert.Equal(t, uint(192), idStart)

	out := w.String()
	assert.Contains(t, out, "if(id < 64) {", "first guard tests only the upper bound")
	assert.Contains(t, out, "if(id >= 64 && id < 96) {")
	assert.Contains(t, out, "if(id >= 96 && id < 192) {")
}

// two collections dispatched through one shared ID space: the first group of
// the second collection does not start at zero, so its guard must carry the
// lower bound or threads of the first collection re-enter its scope
func TestGenParallelGroupChainedCollections(t *testing.T) {
	first := []fakeGroup{{index: 0, members: []uint{128, 128}}}
	second := []fakeGroup{
		{index: 0, members: []uint{128}},
		{index: 1, members: []uint{64}},
	}
	w := NewCodeWriter()
	var idStart uint
	body := func(w *CodeWriter, g fakeGroup, r IDRange) error { return nil }
	require.NoError(t, GenParallelGroup(w, first, &idStart, fakeWork, body))
	require.NoError(t, GenParallelGroup(w, second, &idStart, fakeWork, body))
	assert.Equal(t, uint(448), idStart)

	out := w.String()
	assert.Contains(t, out, "if(id < 256) {")
	assert.Contains(t, out, "if(id >= 256 && id < 384) {",
		"a later collection's first guard keeps its lower bound")
	assert.Contains(t, out, "if(id >= 384 && id < 448) {")
	assert.NotContains(t, out, "if(id < 384)")
}

func TestGenParallelGroupPropagatesErrors(t *testing.T) {
	groups := []fakeGroup{{index: 0, members: []uint{1}}}
	w := NewCodeWriter()
	var idStart uint
	err := GenParallelGroup(w, groups, &idStart, fakeWork,
		func(w *CodeWriter, g fakeGroup, r IDRange) error {
			return fmt.Errorf("handler failed")
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler failed")
}
