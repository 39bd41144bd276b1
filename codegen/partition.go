package codegen

// Partition greedily groups entities into equivalence classes under canMerge.
// Entities are consumed from the back of the input; each candidate is tested
// against the FIRST MEMBER (archetype) of every open class in creation order
// and joins the first class that accepts it, otherwise it opens a new class
// with itself as archetype.
//
// The predicate is only ever evaluated against archetypes, never against
// later members, so it need not be transitive or symmetric; with a
// non-transitive predicate a class may contain member pairs that would fail
// canMerge directly. That asymmetry is part of the contract. Cost is
// O(n * classes) with no backtracking.
//
// Empty input yields nil. An always-false predicate yields one class per
// entity; neither is an error.
func Partition[E any](entities []E, canMerge func(archetype, candidate E) bool) [][]E {
	var classes [][]E
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		found := false
		for c := range classes {
			if canMerge(classes[c][0], e) {
				classes[c] = append(classes[c], e)
				found = true
				break
			}
		}
		if !found {
			classes = append(classes, []E{e})
		}
	}
	return classes
}
