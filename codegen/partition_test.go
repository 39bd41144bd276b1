package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartition(t *testing.T) {
	sameParity := func(a, b int) bool { return a%2 == b%2 }
	tests := []struct {
		description string
		input       []int
		canMerge    func(a, b int) bool
		expect      [][]int
	}{
		{
			description: "empty input yields no classes",
			input:       nil,
			canMerge:    sameParity,
			expect:      nil,
		},
		{
			description: "single entity forms its own class",
			input:       []int{7},
			canMerge:    sameParity,
			expect:      [][]int{{7}},
		},
		{
			description: "entities are consumed from the back",
			input:       []int{1, 2, 3, 4},
			canMerge:    sameParity,
			expect:      [][]int{{4, 2}, {3, 1}},
		},
		{
			description: "always-false predicate fragments fully",
			input:       []int{1, 2, 3},
			canMerge:    func(a, b int) bool { return false },
			expect:      [][]int{{3}, {2}, {1}},
		},
		{
			description: "always-true predicate yields one class",
			input:       []int{5, 6, 7},
			canMerge:    func(a, b int) bool { return true },
			expect:      [][]int{{7, 6, 5}},
		},
	}
	for _, tc := range tests {
		actual := Partition(tc.input, tc.canMerge)
		assert.EqualValues(t, tc.expect, actual, tc.description)
	}
}

func TestPartitionCompleteness(t *testing.T) {
	input := []int{10, 11, 12, 13, 14, 15, 16}
	classes := Partition(input, func(a, b int) bool { return a%3 == b%3 })
	seen := map[int]int{}
	for _, class := range classes {
		for _, e := range class {
			seen[e]++
		}
	}
	assert.Equal(t, len(input), len(seen))
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}

// the predicate is only consulted against archetypes, so a non-symmetric
// predicate still produces stable classes keyed on the archetype
func TestPartitionArchetypeOnly(t *testing.T) {
	var probed [][2]int
	divides := func(a, b int) bool {
		probed = append(probed, [2]int{a, b})
		return b%a == 0
	}
	classes := Partition([]int{8, 3, 2}, divides)
	// 2 opens the first class; 3 opens another; 8 joins 2's class even
	// though 8 and 3 were never compared as members
	assert.EqualValues(t, [][]int{{2, 8}, {3}}, classes)
	for _, p := range probed {
		assert.Contains(t, []int{2, 3}, p[0], "probe must use an archetype")
	}
}

func TestPartitionDeterminism(t *testing.T) {
	input := []int{4, 9, 2, 7, 6, 1}
	first := Partition(input, func(a, b int) bool { return a%2 == b%2 })
	second := Partition(input, func(a, b int) bool { return a%2 == b%2 })
	assert.EqualValues(t, first, second)
}
