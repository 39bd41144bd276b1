package opencl

import (
	"fmt"

	"github.com/snngen/snngen/codegen"
)

// GenNeuronUpdate emits the spike queue reset kernel and the neuron update
// kernel with workgroup-local spike staging
func (b *Backend) GenNeuronUpdate(w *codegen.CodeWriter, m *codegen.MergedModel,
	simHandler, writeBackHandler codegen.NeuronHandler) error {
	net := m.Network()
	genPreamble(w, net)
	m.GenNeuronUpdateSupportCode(w)
	m.GenPostsynapticDynamicsSupportCode(w)
	w.Blank()

	queueGroups := neuronPtrs(m.MergedNeuronSpikeQueueUpdateGroups())
	updateGroups := neuronPtrs(m.MergedNeuronUpdateGroups())
	genGroupDefs(w, net, queueGroups)
	genGroupDefs(w, net, updateGroups)

	wg := b.WorkGroupSize(codegen.KernelNeuronUpdate)
	padded := padTo(func(g *codegen.NeuronGroupMerged, member int) uint {
		return g.Member(member).NumNeurons
	}, wg)
	var scan uint
	ranges := codegen.GroupRanges(updateGroups, &scan, padded)
	for i, g := range updateGroups {
		genStartIDs(w, g, ranges[i].Start, padded)
	}
	w.Blank()

	anyEvents := false
	for _, g := range updateGroups {
		if g.Archetype().SpikeEventRequired() {
			anyEvents = true
		}
	}

	if err := b.genPreNeuronResetKernel(w, queueGroups); err != nil {
		return err
	}
	b.genLaunchSize(w, codegen.KernelPreNeuronReset, totalMembers(queueGroups))
	w.Blank()

	var genErr error
	w.Scope(fmt.Sprintf("__kernel void %s(timepoint t)", codegen.KernelNeuronUpdate.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		w.Line("const unsigned int localId = get_local_id(0);")
		w.Line("__local unsigned int shSpk[%d];", wg)
		w.Line("__local volatile unsigned int shSpkCount;")
		w.Line("__local unsigned int shPosSpk;")
		if anyEvents {
			w.Line("__local unsigned int shSpkEvnt[%d];", wg)
			w.Line("__local volatile unsigned int shSpkEvntCount;")
			w.Line("__local unsigned int shPosSpkEvnt;")
		}
		w.Scope("if (localId == 0)", func() {
			w.Line("shSpkCount = 0;")
			if anyEvents {
				w.Line("shSpkEvntCount = 0;")
			}
		})
		b.GenBarrier(w)

		var idStart uint
		genErr = codegen.GenParallelGroup(w, updateGroups, &idStart, padded,
			func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged, r codegen.IDRange) error {
				return b.genNeuronUpdateGroup(w, g, r, simHandler, writeBackHandler)
			})
	})
	if genErr != nil {
		return genErr
	}
	b.genLaunchSize(w, codegen.KernelNeuronUpdate, scan)
	return nil
}

func (b *Backend) genPreNeuronResetKernel(w *codegen.CodeWriter,
	groups []*codegen.NeuronGroupMerged) error {
	var genErr error
	w.Scope(fmt.Sprintf("__kernel void %s()", codegen.KernelPreNeuronReset.Name()), func() {
		w.Line("const unsigned int id = get_global_id(0);")
		var idStart uint
		genErr = codegen.GenParallelGroup(w, groups, &idStart, onePerMember[*codegen.NeuronGroupMerged],
			func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged, r codegen.IDRange) error {
				arch := g.Archetype()
				w.Line("__global %s *group = &d_merged%sGroup%d[id - %d];",
					g.Name(), g.Role().Prefix(), g.Index(), r.Start)
				cntIdx := "0"
				if arch.DelayRequired() {
					w.Line("*group->spkQuePtr = (*group->spkQuePtr + 1) %% %d;", arch.NumDelaySlots())
					cntIdx = "*group->spkQuePtr"
				}
				w.Line("group->spkCnt[%s] = 0;", cntIdx)
				if arch.SpikeEventRequired() {
					w.Line("group->spkCntEvnt[%s] = 0;", cntIdx)
				}
				return nil
			})
	})
	return genErr
}

func (b *Backend) genNeuronUpdateGroup(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged,
	r codegen.IDRange, simHandler, writeBackHandler codegen.NeuronHandler) error {
	arch := g.Archetype()
	genMemberLookup(w, g, r)

	subs := codegen.NewSubstitutions(nil)
	subs.AddFunc("field", 1, "group->$(0)")
	subs.AddVar("id", "lid")
	subs.AddVar("t", "t")
	subs.AddVar("emitSpike", "shSpk[atomic_add(&shSpkCount, 1u)] = lid")
	if arch.SpikeEventRequired() {
		subs.AddVar("emitSpikeEvent", "shSpkEvnt[atomic_add(&shSpkEvntCount, 1u)] = lid")
	}
	if arch.SimRNGRequired() {
		subs.AddVar("rng", "&group->rng[lid]")
		subs.AddVar("gennrand_uniform", "rngUniform(&group->rng[lid])")
		subs.AddVar("gennrand_normal", "rngNormal(&group->rng[lid])")
	}

	var err error
	w.Scope("if (lid < group->numNeurons)", func() {
		if err = simHandler(w, g, subs); err != nil {
			return
		}
		err = writeBackHandler(w, g, subs)
	})
	if err != nil {
		return err
	}
	b.GenBarrier(w)

	cntIdx := "0"
	writeOffset := ""
	if arch.DelayRequired() {
		cntIdx = "*group->spkQuePtr"
		writeOffset = "((*group->spkQuePtr) * group->numNeurons) + "
	}
	w.Scope("if (localId == 0)", func() {
		w.Line("shPosSpk = %s;", b.GenAtomicAdd("group->spkCnt["+cntIdx+"]", "shSpkCount"))
		if arch.SpikeEventRequired() {
			w.Line("shPosSpkEvnt = %s;", b.GenAtomicAdd("group->spkCntEvnt["+cntIdx+"]", "shSpkEvntCount"))
		}
	})
	b.GenBarrier(w)
	w.Scope("if (localId < shSpkCount)", func() {
		w.Line("group->spk[%sshPosSpk + localId] = shSpk[localId];", writeOffset)
	})
	if arch.SpikeEventRequired() {
		w.Scope("if (localId < shSpkEvntCount)", func() {
			w.Line("group->spkEvnt[%sshPosSpkEvnt + localId] = shSpkEvnt[localId];", writeOffset)
		})
	}
	return nil
}
