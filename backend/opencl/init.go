package opencl

import (
	"fmt"

	"github.com/snngen/snngen/codegen"
)

// GenInit emits the initialize kernel (neuron state, dense weights,
// procedural connectivity) and the sparse initialize kernel, which runs once
// connectivity is in place
func (b *Backend) GenInit(w *codegen.CodeWriter, m *codegen.MergedModel,
	neuronInitHandler codegen.NeuronHandler,
	denseInitHandler, connectivityInitHandler, sparseInitHandler codegen.SynapseHandler) error {
	net := m.Network()
	genPreamble(w, net)

	neuronGroups := neuronPtrs(m.MergedNeuronInitGroups())
	denseGroups := synapsePtrs(m.MergedSynapseDenseInitGroups())
	connGroups := synapsePtrs(m.MergedSynapseConnectivityInitGroups())
	sparseGroups := synapsePtrs(m.MergedSynapseSparseInitGroups())
	genGroupDefs(w, net, neuronGroups)
	genGroupDefs(w, net, denseGroups)
	genGroupDefs(w, net, connGroups)
	genGroupDefs(w, net, sparseGroups)

	initWG := b.WorkGroupSize(codegen.KernelInitialize)
	neuronPadded := padTo(func(g *codegen.NeuronGroupMerged, member int) uint {
		return g.Member(member).NumNeurons
	}, initWG)
	densePadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return g.Member(member).TrgGroup().NumNeurons
	}, initWG)
	connPadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return b.NumConnectivityInitThreads(g.Member(member))
	}, initWG)
	sparsePadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return g.Member(member).SrcGroup().NumNeurons
	}, b.WorkGroupSize(codegen.KernelInitializeSparse))

	// the initialize kernel shares one flat ID space across all three
	// collections, so start IDs are scanned in emission order
	var scan uint
	neuronRanges := codegen.GroupRanges(neuronGroups, &scan, neuronPadded)
	denseRanges := codegen.GroupRanges(denseGroups, &scan, densePadded)
	connRanges := codegen.GroupRanges(connGroups, &scan, connPadded)
	for i, g := range neuronGroups {
		genStartIDs(w, g, neuronRanges[i].Start, neuronPadded)
	}
	for i, g := range denseGroups {
		genStartIDs(w, g, denseRanges[i].Start, densePadded)
	}
	for i, g := range connGroups {
		genStartIDs(w, g, connRanges[i].Start, connPadded)
	}
	var sparseScan uint
	sparseRanges := codegen.GroupRanges(sparseGroups, &sparseScan, sparsePadded)
	for i, g := range sparseGroups {
		genStartIDs(w, g, sparseRanges[i].Start, sparsePadded)
	}
	w.Blank()

	var genErr error
	w.Scope(fmt.Sprintf("__kernel void %s()", codegen.KernelInitialize.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, neuronGroups, &idStart, neuronPadded,
			func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged, r codegen.IDRange) error {
				return b.genNeuronInitGroup(w, g, r, neuronInitHandler)
			})
		if genErr != nil {
			return
		}
		genErr = codegen.GenParallelGroup(w, denseGroups, &idStart, densePadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				return b.genDenseInitGroup(w, g, r, denseInitHandler)
			})
		if genErr != nil {
			return
		}
		genErr = codegen.GenParallelGroup(w, connGroups, &idStart, connPadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				return b.genConnectivityInitGroup(w, g, r, connectivityInitHandler)
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelInitialize, scan)
	w.Blank()

	w.Scope(fmt.Sprintf("__kernel void %s()", codegen.KernelInitializeSparse.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, sparseGroups, &idStart, sparsePadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				genMemberLookup(w, g, r)
				var err error
				w.Scope("if (lid < group->numSrcNeurons)", func() {
					w.Scope("for (unsigned int j = 0; j < group->rowLength[lid]; j++)", func() {
						w.Line("const unsigned int synAddress = (lid * group->rowStride) + j;")
						subs := codegen.NewSubstitutions(nil)
						subs.AddFunc("field", 1, "group->$(0)")
						subs.AddVar("id_pre", "lid")
						subs.AddVar("id_post", "group->ind[synAddress]")
						subs.AddVar("id_syn", "synAddress")
						err = sparseInitHandler(w, g, subs)
					})
				})
				return err
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelInitializeSparse, sparseScan)
	return nil
}

func (b *Backend) genNeuronInitGroup(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged,
	r codegen.IDRange, handler codegen.NeuronHandler) error {
	arch := g.Archetype()
	genMemberLookup(w, g, r)
	w.Scope("if (lid == 0)", func() {
		for d := uint(0); d < arch.NumDelaySlots(); d++ {
			w.Line("group->spkCnt[%d] = 0;", d)
			if arch.SpikeEventRequired() {
				w.Line("group->spkCntEvnt[%d] = 0;", d)
			}
		}
		if arch.DelayRequired() {
			w.Line("*group->spkQuePtr = 0;")
		}
	})
	var err error
	w.Scope("if (lid < group->numNeurons)", func() {
		for d := uint(0); d < arch.NumDelaySlots(); d++ {
			w.Line("group->spk[(%d * group->numNeurons) + lid] = 0;", d)
			if arch.SpikeEventRequired() {
				w.Line("group->spkEvnt[(%d * group->numNeurons) + lid] = 0;", d)
			}
		}
		subs := codegen.NewSubstitutions(nil)
		subs.AddFunc("field", 1, "group->$(0)")
		subs.AddVar("id", "lid")
		err = handler(w, g, subs)
	})
	return err
}

// genDenseInitGroup initialises dense weights one target column per thread
func (b *Backend) genDenseInitGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	r codegen.IDRange, handler codegen.SynapseHandler) error {
	genMemberLookup(w, g, r)
	var err error
	w.Scope("if (lid < group->numTrgNeurons)", func() {
		w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
			w.Line("const unsigned int synAddress = (i * group->rowStride) + lid;")
			subs := codegen.NewSubstitutions(nil)
			subs.AddFunc("field", 1, "group->$(0)")
			subs.AddVar("id_pre", "i")
			subs.AddVar("id_post", "lid")
			subs.AddVar("id_syn", "synAddress")
			err = handler(w, g, subs)
		})
	})
	return err
}

// genConnectivityInitGroup builds one ragged or bitmask row per thread
func (b *Backend) genConnectivityInitGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	r codegen.IDRange, handler codegen.SynapseHandler) error {
	arch := g.Archetype()
	genMemberLookup(w, g, r)
	var err error
	w.Scope("if (lid < group->numSrcNeurons)", func() {
		subs := codegen.NewSubstitutions(nil)
		subs.AddFunc("field", 1, "group->$(0)")
		subs.AddVar("id_pre", "lid")
		if arch.Matrix.Bitmask() {
			subs.AddFunc("addSynapse", 1,
				"atomic_or(&group->gp[((lid * group->numTrgNeurons) + $(0)) / 32], "+
					"0x80000000 >> (((lid * group->numTrgNeurons) + $(0)) & 31))")
		} else {
			w.Line("unsigned int rowIdx = 0;")
			subs.AddFunc("addSynapse", 1, "group->ind[(lid * group->rowStride) + (rowIdx++)] = $(0)")
		}
		err = handler(w, g, subs)
		if arch.Matrix.Sparse() {
			w.Line("group->rowLength[lid] = rowIdx;")
		}
	})
	return err
}
