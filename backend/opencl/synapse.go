package opencl

import (
	"fmt"

	"github.com/snngen/snngen/codegen"
	"github.com/snngen/snngen/model"
)

// presynapticStrategy decides how presynaptic work maps onto threads
type presynapticStrategy interface {
	compatible(sg *model.SynapseGroup) bool
	genUpdate(b *Backend, w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
		simHandler, eventHandler codegen.SynapseHandler) error
}

func (b *Backend) strategyFor(sg *model.SynapseGroup) (presynapticStrategy, error) {
	for _, s := range b.strategies {
		if s.compatible(sg) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", codegen.ErrNoCompatibleStrategy, sg.Name)
}

// GenSynapseUpdate emits the dendritic delay reset kernel and the three
// synaptic kernels
func (b *Backend) GenSynapseUpdate(w *codegen.CodeWriter, m *codegen.MergedModel,
	simHandler, eventHandler, learnPostHandler, dynamicsHandler codegen.SynapseHandler) error {
	net := m.Network()
	genPreamble(w, net)
	m.GenPresynapticUpdateSupportCode(w)
	m.GenPostsynapticUpdateSupportCode(w)
	m.GenSynapseDynamicsSupportCode(w)
	w.Blank()

	delayGroups := synapsePtrs(m.MergedSynapseDendriticDelayUpdateGroups())
	preGroups := synapsePtrs(m.MergedPresynapticUpdateGroups())
	postGroups := synapsePtrs(m.MergedPostsynapticUpdateGroups())
	dynGroups := synapsePtrs(m.MergedSynapseDynamicsGroups())
	genGroupDefs(w, net, delayGroups)
	genGroupDefs(w, net, preGroups)
	genGroupDefs(w, net, postGroups)
	genGroupDefs(w, net, dynGroups)

	prePadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return b.NumPresynapticUpdateThreads(g.Member(member))
	}, b.WorkGroupSize(codegen.KernelPresynapticUpdate))
	postPadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return b.NumPostsynapticUpdateThreads(g.Member(member))
	}, b.WorkGroupSize(codegen.KernelPostsynapticUpdate))
	dynPadded := padTo(func(g *codegen.SynapseGroupMerged, member int) uint {
		return b.NumSynapseDynamicsThreads(g.Member(member))
	}, b.WorkGroupSize(codegen.KernelSynapseDynamicsUpdate))

	var preTotal, postTotal, dynTotal uint
	for _, emit := range []struct {
		groups []*codegen.SynapseGroupMerged
		padded func(*codegen.SynapseGroupMerged, int) uint
		total  *uint
	}{{preGroups, prePadded, &preTotal}, {postGroups, postPadded, &postTotal},
		{dynGroups, dynPadded, &dynTotal}} {
		ranges := codegen.GroupRanges(emit.groups, emit.total, emit.padded)
		for i, g := range emit.groups {
			genStartIDs(w, g, ranges[i].Start, emit.padded)
		}
	}
	w.Blank()

	if err := b.genPreSynapseResetKernel(w, delayGroups); err != nil {
		return err
	}
	b.genLaunchSize(w, codegen.KernelPreSynapseReset, totalMembers(delayGroups))
	w.Blank()

	var genErr error
	w.Scope(fmt.Sprintf("__kernel void %s(timepoint t)", codegen.KernelPresynapticUpdate.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, preGroups, &idStart, prePadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				genMemberLookup(w, g, r)
				strategy, err := b.strategyFor(g.Archetype())
				if err != nil {
					return err
				}
				return strategy.genUpdate(b, w, g, simHandler, eventHandler)
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelPresynapticUpdate, preTotal)
	w.Blank()

	w.Scope(fmt.Sprintf("__kernel void %s(timepoint t)", codegen.KernelPostsynapticUpdate.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, postGroups, &idStart, postPadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				genMemberLookup(w, g, r)
				return b.genPostsynapticGroup(w, g, learnPostHandler)
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelPostsynapticUpdate, postTotal)
	w.Blank()

	w.Scope(fmt.Sprintf("__kernel void %s(timepoint t)", codegen.KernelSynapseDynamicsUpdate.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, dynGroups, &idStart, dynPadded,
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				genMemberLookup(w, g, r)
				return b.genSynapseDynamicsGroup(w, g, dynamicsHandler)
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelSynapseDynamicsUpdate, dynTotal)
	return nil
}

func (b *Backend) genPreSynapseResetKernel(w *codegen.CodeWriter,
	groups []*codegen.SynapseGroupMerged) error {
	var genErr error
	w.Scope(fmt.Sprintf("__kernel void %s()", codegen.KernelPreSynapseReset.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, groups, &idStart, onePerMember[*codegen.SynapseGroupMerged],
			func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged, r codegen.IDRange) error {
				w.Line("__global %s *group = &d_merged%sGroup%d[id - %d];",
					g.Name(), g.Role().Prefix(), g.Index(), r.Start)
				w.Line("*group->denDelayPtr = (*group->denDelayPtr + 1) %% %d;",
					g.Archetype().MaxDendriticDelaySlots)
				return nil
			})
	})
	return genErr
}

// genPreDelay emits the presynaptic spike queue slot and offset locals and
// returns expressions for the spike count index and the spike array offset
func genPreDelay(w *codegen.CodeWriter, arch *model.SynapseGroup) (string, string) {
	src := arch.SrcGroup()
	if !src.DelayRequired() {
		return "0", ""
	}
	slots := src.NumDelaySlots()
	w.Line("const unsigned int preReadDelaySlot = (*group->srcSpkQuePtr + %d) %% %d;",
		slots-arch.DelaySteps, slots)
	w.Line("const unsigned int preReadDelayOffset = preReadDelaySlot * group->numSrcNeurons;")
	return "preReadDelaySlot", "preReadDelayOffset + "
}

func genPostDelay(w *codegen.CodeWriter, arch *model.SynapseGroup) (string, string) {
	trg := arch.TrgGroup()
	if !trg.DelayRequired() {
		return "0", ""
	}
	slots := trg.NumDelaySlots()
	w.Line("const unsigned int postReadDelaySlot = (*group->trgSpkQuePtr + %d) %% %d;",
		slots-arch.BackPropDelaySteps, slots)
	w.Line("const unsigned int postReadDelayOffset = postReadDelaySlot * group->numTrgNeurons;")
	return "postReadDelaySlot", "postReadDelayOffset + "
}

// synapseSubs binds the positional identifiers and accumulation hooks for
// one synapse visit
func (b *Backend) synapseSubs(arch *model.SynapseGroup, idPre, idPost, idSyn,
	preOffset, postOffset string) *codegen.Substitutions {
	subs := codegen.NewSubstitutions(nil)
	subs.AddFunc("field", 1, "group->$(0)")
	subs.AddVar("t", "t")
	subs.AddVar("id_pre", idPre)
	subs.AddVar("id_post", idPost)
	subs.AddVar("id_syn", idSyn)
	subs.AddFunc("addToInSyn", 1, fmt.Sprintf("atomicAddFloat(&group->inSyn[%s], $(0))", idPost))
	if arch.DendriticDelayRequired() {
		subs.AddFunc("addToInSynDelay", 2, fmt.Sprintf(
			"atomicAddFloat(&group->denDelay[(((*group->denDelayPtr + $(1)) %% %d) * group->numTrgNeurons) + %s], $(0))",
			arch.MaxDendriticDelaySlots, idPost))
	}
	if arch.SrcGroup().SpikeTimeRequired() {
		subs.AddVar("sT_pre", fmt.Sprintf("group->sTPre[%s%s]", preOffset, idPre))
	}
	if arch.TrgGroup().SpikeTimeRequired() {
		subs.AddVar("sT_post", fmt.Sprintf("group->sTPost[%s%s]", postOffset, idPost))
	}
	return subs
}

// postSpanStrategy parallelises over postsynaptic targets and loops over
// incoming spikes
type postSpanStrategy struct{}

func (postSpanStrategy) compatible(sg *model.SynapseGroup) bool {
	return sg.Span == model.PostSpan
}

func (s postSpanStrategy) genUpdate(b *Backend, w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	simHandler, eventHandler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preSlot, preOffset := genPreDelay(w, arch)
	_, postOffset := genPostDelay(w, arch)
	if arch.WUModel.EventCode != "" {
		if err := s.genSpikes(b, w, g, eventHandler, true, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	if arch.WUModel.SimCode != "" {
		if err := s.genSpikes(b, w, g, simHandler, false, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	return nil
}

func (postSpanStrategy) genSpikes(b *Backend, w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler, event bool, preSlot, preOffset, postOffset string) error {
	arch := g.Archetype()
	cnt, arr := "srcSpkCnt", "srcSpk"
	if event {
		cnt, arr = "srcSpkCntEvnt", "srcSpkEvnt"
	}
	var genErr error
	w.Scope(fmt.Sprintf("for (unsigned int i = 0; i < group->%s[%s]; i++)", cnt, preSlot), func() {
		w.Line("const unsigned int preInd = group->%s[%si];", arr, preOffset)
		guard := "if (lid < group->numTrgNeurons)"
		if arch.Matrix.Sparse() {
			guard = "if (lid < group->rowLength[preInd])"
		}
		w.Scope(guard, func() {
			w.Line("const unsigned int synAddress = (preInd * group->rowStride) + lid;")
			ipost := "lid"
			if arch.Matrix.Sparse() {
				w.Line("const unsigned int ipost = group->ind[synAddress];")
				ipost = "ipost"
			}
			subs := b.synapseSubs(arch, "preInd", ipost, "synAddress", preOffset, postOffset)
			if arch.Matrix.Bitmask() {
				w.Line("const unsigned int gid = (preInd * group->numTrgNeurons) + lid;")
				w.Scope("if (group->gp[gid / 32] & (0x80000000 >> (gid & 31)))", func() {
					genErr = handler(w, g, subs)
				})
				return
			}
			genErr = handler(w, g, subs)
		})
	})
	return genErr
}

// preSpanStrategy parallelises over incoming spikes and loops over each
// spiking neuron's row; only worthwhile for sparse rows
type preSpanStrategy struct{}

func (preSpanStrategy) compatible(sg *model.SynapseGroup) bool {
	return sg.Span == model.PreSpan && sg.Matrix.Sparse()
}

func (s preSpanStrategy) genUpdate(b *Backend, w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	simHandler, eventHandler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preSlot, preOffset := genPreDelay(w, arch)
	_, postOffset := genPostDelay(w, arch)
	if arch.WUModel.EventCode != "" {
		if err := s.genSpikes(b, w, g, eventHandler, true, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	if arch.WUModel.SimCode != "" {
		if err := s.genSpikes(b, w, g, simHandler, false, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	return nil
}

func (preSpanStrategy) genSpikes(b *Backend, w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler, event bool, preSlot, preOffset, postOffset string) error {
	arch := g.Archetype()
	cnt, arr := "srcSpkCnt", "srcSpk"
	if event {
		cnt, arr = "srcSpkCntEvnt", "srcSpkEvnt"
	}
	var genErr error
	w.Scope(fmt.Sprintf("if (lid < group->%s[%s])", cnt, preSlot), func() {
		w.Line("const unsigned int preInd = group->%s[%slid];", arr, preOffset)
		w.Scope("for (unsigned int j = 0; j < group->rowLength[preInd]; j++)", func() {
			w.Line("const unsigned int synAddress = (preInd * group->rowStride) + j;")
			w.Line("const unsigned int ipost = group->ind[synAddress];")
			subs := b.synapseSubs(arch, "preInd", "ipost", "synAddress", preOffset, postOffset)
			genErr = handler(w, g, subs)
		})
	})
	return genErr
}

// genPostsynapticGroup walks each presynaptic row against the postsynaptic
// spike queue and applies the learning rule on matching synapses
func (b *Backend) genPostsynapticGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preOffset := ""
	if arch.SrcGroup().DelayRequired() {
		_, preOffset = genPreDelay(w, arch)
	}
	postSlot, postOffset := genPostDelay(w, arch)
	var genErr error
	w.Scope("if (lid < group->numSrcNeurons)", func() {
		w.Scope(fmt.Sprintf("for (unsigned int j = 0; j < group->trgSpkCnt[%s]; j++)", postSlot), func() {
			w.Line("const unsigned int postInd = group->trgSpk[%sj];", postOffset)
			if arch.Matrix.Sparse() {
				w.Scope("for (unsigned int k = 0; k < group->rowLength[lid]; k++)", func() {
					w.Line("const unsigned int synAddress = (lid * group->rowStride) + k;")
					w.Scope("if (group->ind[synAddress] == postInd)", func() {
						subs := b.synapseSubs(arch, "lid", "postInd", "synAddress", preOffset, postOffset)
						genErr = handler(w, g, subs)
					})
				})
				return
			}
			w.Line("const unsigned int synAddress = (lid * group->rowStride) + postInd;")
			subs := b.synapseSubs(arch, "lid", "postInd", "synAddress", preOffset, postOffset)
			genErr = handler(w, g, subs)
		})
	})
	return genErr
}

// genSynapseDynamicsGroup visits every synapse of the merged group once per
// timestep
func (b *Backend) genSynapseDynamicsGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preOffset := ""
	if arch.SrcGroup().DelayRequired() {
		_, preOffset = genPreDelay(w, arch)
	}
	postOffset := ""
	if arch.TrgGroup().DelayRequired() {
		_, postOffset = genPostDelay(w, arch)
	}
	var genErr error
	w.Scope("if (lid < (group->numSrcNeurons * group->rowStride))", func() {
		w.Line("const unsigned int preInd = lid / group->rowStride;")
		w.Line("const unsigned int j = lid %% group->rowStride;")
		if arch.Matrix.Sparse() {
			w.Scope("if (j < group->rowLength[preInd])", func() {
				w.Line("const unsigned int ipost = group->ind[lid];")
				subs := b.synapseSubs(arch, "preInd", "ipost", "lid", preOffset, postOffset)
				genErr = handler(w, g, subs)
			})
			return
		}
		subs := b.synapseSubs(arch, "preInd", "j", "lid", preOffset, postOffset)
		genErr = handler(w, g, subs)
	})
	return genErr
}
