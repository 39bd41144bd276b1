package codegen

import (
	"errors"
	"fmt"

	"github.com/snngen/snngen/model"
)

// ErrNoCompatibleStrategy is returned when no registered presynaptic update
// strategy accepts a projection's matrix type and span
var ErrNoCompatibleStrategy = errors.New("no compatible presynaptic update strategy")

// NeuronHandler substitutes role code for one merged population inside a
// backend-emitted dispatch body
type NeuronHandler func(w *CodeWriter, g *NeuronGroupMerged, subs *Substitutions) error

// SynapseHandler substitutes role code for one merged projection inside a
// backend-emitted dispatch body
type SynapseHandler func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error

// Backend turns a merged model plus role handlers into target source. The
// generator owns the model semantics; the backend owns threading, memory
// spaces and launch geometry
type Backend interface {
	GenNeuronUpdate(w *CodeWriter, m *MergedModel, simHandler, writeBackHandler NeuronHandler) error
	GenSynapseUpdate(w *CodeWriter, m *MergedModel, simHandler, eventHandler,
		learnPostHandler, dynamicsHandler SynapseHandler) error
	GenInit(w *CodeWriter, m *MergedModel, neuronInitHandler NeuronHandler,
		denseInitHandler, connectivityInitHandler, sparseInitHandler SynapseHandler) error

	// WorkGroupSize is the dispatch granularity of a kernel; 1 for
	// sequential backends
	WorkGroupSize(k Kernel) uint
	NumPresynapticUpdateThreads(sg *model.SynapseGroup) uint
	NumPostsynapticUpdateThreads(sg *model.SynapseGroup) uint
	NumSynapseDynamicsThreads(sg *model.SynapseGroup) uint
	NumConnectivityInitThreads(sg *model.SynapseGroup) uint

	// GenVariablePrefix is prepended to device array identifiers in
	// generated code
	GenVariablePrefix() string
	// GenBarrier emits an execution-unit rendezvous; no-op for
	// sequential backends
	GenBarrier(w *CodeWriter)
	// GenAtomicAdd renders an atomic fetch-and-add expression on target
	GenAtomicAdd(target, value string) string
}

// MergedGroup is what the dispatch protocol needs to know about a merged
// group regardless of its kind
type MergedGroup interface {
	Index() int
	Name() string
	Size() int
	Role() Role
	Fields() []Field
}

// IDRange is a half-open global thread ID interval [Start, End)
type IDRange struct {
	Start uint
	End   uint
}

// PadSize rounds n up to the next multiple of granularity
func PadSize(n, granularity uint) uint {
	if granularity == 0 {
		return n
	}
	return ((n + granularity - 1) / granularity) * granularity
}

// MemberStartIDs returns the absolute start ID of every member of g, given
// the group's own start and each member's padded work amount. Member m owns
// [ids[m], ids[m]+paddedThreads(m))
func MemberStartIDs[G MergedGroup](g G, start uint, paddedThreads func(g G, member int) uint) []uint {
	ids := make([]uint, g.Size())
	for m := range ids {
		ids[m] = start
		start += paddedThreads(g, m)
	}
	return ids
}

// GroupRanges assigns each group a contiguous ID range, in slice order,
// starting at *idStart and advancing it past the last group
func GroupRanges[G MergedGroup](groups []G, idStart *uint, paddedThreads func(g G, member int) uint) []IDRange {
	ranges := make([]IDRange, len(groups))
	for i, g := range groups {
		ranges[i].Start = *idStart
		for m := 0; m < g.Size(); m++ {
			*idStart += paddedThreads(g, m)
		}
		ranges[i].End = *idStart
	}
	return ranges
}

// GenParallelGroup emits one ID-range guard per group and invokes body inside
// it. A group starting at global ID zero tests only the upper bound; every
// other group tests both, so collections chained through one *idStart never
// re-select threads below their range
func GenParallelGroup[G MergedGroup](w *CodeWriter, groups []G, idStart *uint,
	paddedThreads func(g G, member int) uint,
	body func(w *CodeWriter, g G, r IDRange) error) error {
	ranges := GroupRanges(groups, idStart, paddedThreads)
	for i, g := range groups {
		r := ranges[i]
		if r.Start == r.End {
			continue
		}
		var header string
		if r.Start == 0 {
			header = fmt.Sprintf("if(id < %d)", r.End)
		} else {
			header = fmt.Sprintf("if(id >= %d && id < %d)", r.Start, r.End)
		}
		w.Line("// merged group %d", g.Index())
		var err error
		w.Scope(header, func() {
			err = body(w, g, r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
