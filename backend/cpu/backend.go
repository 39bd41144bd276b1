// Package cpu generates sequential C source from a merged model. The same
// merged structs and handler contracts as the parallel backends apply, but
// ID-range dispatch degenerates to plain loops, barriers to nothing and
// atomic accumulation to ordinary additions
package cpu

import (
	"fmt"
	"strings"

	"github.com/snngen/snngen/codegen"
	"github.com/snngen/snngen/model"
)

// Backend emits single-threaded C source
type Backend struct{}

// New builds a sequential backend
func New() *Backend { return &Backend{} }

func (b *Backend) WorkGroupSize(codegen.Kernel) uint { return 1 }

func (b *Backend) NumPresynapticUpdateThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons
}

func (b *Backend) NumPostsynapticUpdateThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons
}

func (b *Backend) NumSynapseDynamicsThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons * sg.MaxRowLength()
}

func (b *Backend) NumConnectivityInitThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons
}

func (b *Backend) GenVariablePrefix() string { return "" }

func (b *Backend) GenBarrier(*codegen.CodeWriter) {}

func (b *Backend) GenAtomicAdd(target, value string) string {
	return fmt.Sprintf("(%s += %s)", target, value)
}

func resolveType(net *model.Network, t string) string {
	if elem, ok := strings.CutSuffix(t, "*"); ok {
		return resolveType(net, elem) + "*"
	}
	switch t {
	case "scalar":
		return net.Precision
	case "timepoint":
		return timeType(net)
	case "rngState":
		return "rngState"
	}
	return t
}

func timeType(net *model.Network) string {
	if net.TimePrecision != "" {
		return net.TimePrecision
	}
	return net.Precision
}

func genPreamble(w *codegen.CodeWriter, net *model.Network) {
	w.Line("#include <math.h>")
	w.Line("#include <stdint.h>")
	w.Line("typedef %s scalar;", net.Precision)
	w.Line("typedef %s timepoint;", timeType(net))
	w.Line("typedef struct { unsigned long long s[2]; } rngState;")
	w.Line("#define TIME_MAX 3.402823466e+38%s", net.ScalarSuffix())
	w.Blank()
	w.Scope("static unsigned long long rngNext(rngState *s)", func() {
		w.Line("unsigned long long x = s->s[0];")
		w.Line("const unsigned long long y = s->s[1];")
		w.Line("s->s[0] = y;")
		w.Line("x ^= x << 23;")
		w.Line("s->s[1] = x ^ y ^ (x >> 17) ^ (y >> 26);")
		w.Line("return s->s[1] + y;")
	})
	w.Scope("static scalar rngUniform(rngState *s)", func() {
		w.Line("return (scalar)(rngNext(s) >> 11) * ((scalar)1.0 / (scalar)9007199254740992.0);")
	})
	w.Scope("static scalar rngNormal(rngState *s)", func() {
		w.Line("const scalar u1 = rngUniform(s);")
		w.Line("const scalar u2 = rngUniform(s);")
		w.Line("return (scalar)(sqrt(-2.0 * log((double)u1)) * cos(6.283185307179586 * (double)u2));")
	})
	w.Blank()
}

// genGroupDefs emits the struct typedef, the static array holding one struct
// per member and the push function populating it
func genGroupDefs[G codegen.MergedGroup](w *codegen.CodeWriter, net *model.Network, groups []G) {
	for _, g := range groups {
		fields := g.Fields()
		array := fmt.Sprintf("merged%sGroup%d", g.Role().Prefix(), g.Index())
		w.ScopeSuffix("typedef struct", " "+g.Name()+";", func() {
			for _, f := range fields {
				w.Line("%s %s;", resolveType(net, f.Type), f.Name)
			}
		})
		w.Line("static %s %s[%d];", g.Name(), array, g.Size())
		w.Scope(fmt.Sprintf("void push%s()", g.Name()), func() {
			for m := 0; m < g.Size(); m++ {
				for _, f := range fields {
					w.Line("%s[%d].%s = %s;", array, m, f.Name, f.Value(m))
				}
			}
		})
		w.Blank()
	}
}

// forEachGroup emits the member loop shared by every sequential phase
func forEachGroup[G codegen.MergedGroup](w *codegen.CodeWriter, groups []G,
	body func(w *codegen.CodeWriter, g G) error) error {
	for _, g := range groups {
		array := fmt.Sprintf("merged%sGroup%d", g.Role().Prefix(), g.Index())
		w.Line("// merged group %d", g.Index())
		var err error
		w.Scope(fmt.Sprintf("for (unsigned int gi = 0; gi < %d; gi++)", g.Size()), func() {
			w.Line("%s *group = &%s[gi];", g.Name(), array)
			err = body(w, g)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GenNeuronUpdate emits preNeuronReset and updateNeurons as plain functions
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

	var genErr error
	w.Scope("void preNeuronReset()", func() {
		genErr = forEachGroup(w, queueGroups, func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged) error {
			arch := g.Archetype()
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
	if genErr != nil {
		return genErr
	}
	w.Blank()

	w.Scope("void updateNeurons(timepoint t)", func() {
		genErr = forEachGroup(w, updateGroups, func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged) error {
			arch := g.Archetype()
			subs := codegen.NewSubstitutions(nil)
			subs.AddFunc("field", 1, "group->$(0)")
			subs.AddVar("id", "i")
			subs.AddVar("t", "t")
			cntIdx := "0"
			spkOffset := ""
			if arch.DelayRequired() {
				cntIdx = "*group->spkQuePtr"
				spkOffset = "((*group->spkQuePtr) * group->numNeurons) + "
			}
			subs.AddVar("emitSpike", fmt.Sprintf("group->spk[%sgroup->spkCnt[%s]++] = i", spkOffset, cntIdx))
			if arch.SpikeEventRequired() {
				subs.AddVar("emitSpikeEvent", fmt.Sprintf("group->spkEvnt[%sgroup->spkCntEvnt[%s]++] = i", spkOffset, cntIdx))
			}
			if arch.SimRNGRequired() {
				subs.AddVar("rng", "&group->rng[i]")
				subs.AddVar("gennrand_uniform", "rngUniform(&group->rng[i])")
				subs.AddVar("gennrand_normal", "rngNormal(&group->rng[i])")
			}
			var err error
			w.Scope("for (unsigned int i = 0; i < group->numNeurons; i++)", func() {
				if err = simHandler(w, g, subs); err != nil {
					return
				}
				err = writeBackHandler(w, g, subs)
			})
			return err
		})
	})
	return genErr
}

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

func synapseSubs(arch *model.SynapseGroup, idPre, idPost, idSyn, preOffset, postOffset string) *codegen.Substitutions {
	subs := codegen.NewSubstitutions(nil)
	subs.AddFunc("field", 1, "group->$(0)")
	subs.AddVar("t", "t")
	subs.AddVar("id_pre", idPre)
	subs.AddVar("id_post", idPost)
	subs.AddVar("id_syn", idSyn)
	subs.AddFunc("addToInSyn", 1, fmt.Sprintf("group->inSyn[%s] += $(0)", idPost))
	if arch.DendriticDelayRequired() {
		subs.AddFunc("addToInSynDelay", 2, fmt.Sprintf(
			"group->denDelay[(((*group->denDelayPtr + $(1)) %% %d) * group->numTrgNeurons) + %s] += $(0)",
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

// GenSynapseUpdate emits preSynapseReset, updatePresynaptic,
// updatePostsynaptic and updateSynapseDynamics
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

	var genErr error
	w.Scope("void preSynapseReset()", func() {
		genErr = forEachGroup(w, delayGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			w.Line("*group->denDelayPtr = (*group->denDelayPtr + 1) %% %d;",
				g.Archetype().MaxDendriticDelaySlots)
			return nil
		})
	})
	if genErr != nil {
		return genErr
	}
	w.Blank()

	w.Scope("void updatePresynaptic(timepoint t)", func() {
		genErr = forEachGroup(w, preGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			return b.genPresynapticGroup(w, g, simHandler, eventHandler)
		})
	})
	if genErr != nil {
		return genErr
	}
	w.Blank()

	w.Scope("void updatePostsynaptic(timepoint t)", func() {
		genErr = forEachGroup(w, postGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			return b.genPostsynapticGroup(w, g, learnPostHandler)
		})
	})
	if genErr != nil {
		return genErr
	}
	w.Blank()

	w.Scope("void updateSynapseDynamics(timepoint t)", func() {
		genErr = forEachGroup(w, dynGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			return b.genSynapseDynamicsGroup(w, g, dynamicsHandler)
		})
	})
	return genErr
}

func (b *Backend) genPresynapticGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	simHandler, eventHandler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preSlot, preOffset := genPreDelay(w, arch)
	_, postOffset := genPostDelay(w, arch)
	if arch.WUModel.EventCode != "" {
		if err := b.genSpikes(w, g, eventHandler, true, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	if arch.WUModel.SimCode != "" {
		if err := b.genSpikes(w, g, simHandler, false, preSlot, preOffset, postOffset); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) genSpikes(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler, event bool, preSlot, preOffset, postOffset string) error {
	arch := g.Archetype()
	cnt, arr := "srcSpkCnt", "srcSpk"
	if event {
		cnt, arr = "srcSpkCntEvnt", "srcSpkEvnt"
	}
	var genErr error
	w.Scope(fmt.Sprintf("for (unsigned int i = 0; i < group->%s[%s]; i++)", cnt, preSlot), func() {
		w.Line("const unsigned int preInd = group->%s[%si];", arr, preOffset)
		bound := "group->numTrgNeurons"
		if arch.Matrix.Sparse() {
			bound = "group->rowLength[preInd]"
		}
		w.Scope(fmt.Sprintf("for (unsigned int j = 0; j < %s; j++)", bound), func() {
			w.Line("const unsigned int synAddress = (preInd * group->rowStride) + j;")
			ipost := "j"
			if arch.Matrix.Sparse() {
				w.Line("const unsigned int ipost = group->ind[synAddress];")
				ipost = "ipost"
			}
			subs := synapseSubs(arch, "preInd", ipost, "synAddress", preOffset, postOffset)
			if arch.Matrix.Bitmask() {
				w.Line("const unsigned int gid = (preInd * group->numTrgNeurons) + j;")
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

func (b *Backend) genPostsynapticGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler) error {
	arch := g.Archetype()
	preOffset := ""
	if arch.SrcGroup().DelayRequired() {
		_, preOffset = genPreDelay(w, arch)
	}
	postSlot, postOffset := genPostDelay(w, arch)
	var genErr error
	w.Scope(fmt.Sprintf("for (unsigned int j = 0; j < group->trgSpkCnt[%s]; j++)", postSlot), func() {
		w.Line("const unsigned int postInd = group->trgSpk[%sj];", postOffset)
		w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
			if arch.Matrix.Sparse() {
				w.Scope("for (unsigned int k = 0; k < group->rowLength[i]; k++)", func() {
					w.Line("const unsigned int synAddress = (i * group->rowStride) + k;")
					w.Scope("if (group->ind[synAddress] == postInd)", func() {
						subs := synapseSubs(arch, "i", "postInd", "synAddress", preOffset, postOffset)
						genErr = handler(w, g, subs)
					})
				})
				return
			}
			w.Line("const unsigned int synAddress = (i * group->rowStride) + postInd;")
			subs := synapseSubs(arch, "i", "postInd", "synAddress", preOffset, postOffset)
			genErr = handler(w, g, subs)
		})
	})
	return genErr
}

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
	w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
		bound := "group->numTrgNeurons"
		if arch.Matrix.Sparse() {
			bound = "group->rowLength[i]"
		}
		w.Scope(fmt.Sprintf("for (unsigned int j = 0; j < %s; j++)", bound), func() {
			w.Line("const unsigned int synAddress = (i * group->rowStride) + j;")
			ipost := "j"
			if arch.Matrix.Sparse() {
				w.Line("const unsigned int ipost = group->ind[synAddress];")
				ipost = "ipost"
			}
			subs := synapseSubs(arch, "i", ipost, "synAddress", preOffset, postOffset)
			genErr = handler(w, g, subs)
		})
	})
	return genErr
}

// GenInit emits initialize and initializeSparse as plain functions
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

	var genErr error
	w.Scope("void initialize()", func() {
		genErr = forEachGroup(w, neuronGroups, func(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged) error {
			return b.genNeuronInitGroup(w, g, neuronInitHandler)
		})
		if genErr != nil {
			return
		}
		genErr = forEachGroup(w, denseGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			return b.genDenseInitGroup(w, g, denseInitHandler)
		})
		if genErr != nil {
			return
		}
		genErr = forEachGroup(w, connGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			return b.genConnectivityInitGroup(w, g, connectivityInitHandler)
		})
	})
	if genErr != nil {
		return genErr
	}
	w.Blank()

	w.Scope("void initializeSparse()", func() {
		genErr = forEachGroup(w, sparseGroups, func(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged) error {
			var err error
			w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
				w.Scope("for (unsigned int j = 0; j < group->rowLength[i]; j++)", func() {
					w.Line("const unsigned int synAddress = (i * group->rowStride) + j;")
					subs := codegen.NewSubstitutions(nil)
					subs.AddFunc("field", 1, "group->$(0)")
					subs.AddVar("id_pre", "i")
					subs.AddVar("id_post", "group->ind[synAddress]")
					subs.AddVar("id_syn", "synAddress")
					err = sparseInitHandler(w, g, subs)
				})
			})
			return err
		})
	})
	return genErr
}

func (b *Backend) genNeuronInitGroup(w *codegen.CodeWriter, g *codegen.NeuronGroupMerged,
	handler codegen.NeuronHandler) error {
	arch := g.Archetype()
	for d := uint(0); d < arch.NumDelaySlots(); d++ {
		w.Line("group->spkCnt[%d] = 0;", d)
		if arch.SpikeEventRequired() {
			w.Line("group->spkCntEvnt[%d] = 0;", d)
		}
	}
	if arch.DelayRequired() {
		w.Line("*group->spkQuePtr = 0;")
	}
	var err error
	w.Scope("for (unsigned int i = 0; i < group->numNeurons; i++)", func() {
		for d := uint(0); d < arch.NumDelaySlots(); d++ {
			w.Line("group->spk[(%d * group->numNeurons) + i] = 0;", d)
			if arch.SpikeEventRequired() {
				w.Line("group->spkEvnt[(%d * group->numNeurons) + i] = 0;", d)
			}
		}
		subs := codegen.NewSubstitutions(nil)
		subs.AddFunc("field", 1, "group->$(0)")
		subs.AddVar("id", "i")
		err = handler(w, g, subs)
	})
	return err
}

func (b *Backend) genDenseInitGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler) error {
	var err error
	w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
		w.Scope("for (unsigned int j = 0; j < group->numTrgNeurons; j++)", func() {
			w.Line("const unsigned int synAddress = (i * group->rowStride) + j;")
			subs := codegen.NewSubstitutions(nil)
			subs.AddFunc("field", 1, "group->$(0)")
			subs.AddVar("id_pre", "i")
			subs.AddVar("id_post", "j")
			subs.AddVar("id_syn", "synAddress")
			err = handler(w, g, subs)
		})
	})
	return err
}

func (b *Backend) genConnectivityInitGroup(w *codegen.CodeWriter, g *codegen.SynapseGroupMerged,
	handler codegen.SynapseHandler) error {
	arch := g.Archetype()
	var err error
	w.Scope("for (unsigned int i = 0; i < group->numSrcNeurons; i++)", func() {
		subs := codegen.NewSubstitutions(nil)
		subs.AddFunc("field", 1, "group->$(0)")
		subs.AddVar("id_pre", "i")
		if arch.Matrix.Bitmask() {
			subs.AddFunc("addSynapse", 1,
				"group->gp[((i * group->numTrgNeurons) + $(0)) / 32] |= "+
					"(0x80000000 >> (((i * group->numTrgNeurons) + $(0)) & 31))")
		} else {
			w.Line("unsigned int rowIdx = 0;")
			subs.AddFunc("addSynapse", 1, "group->ind[(i * group->rowStride) + (rowIdx++)] = $(0)")
		}
		err = handler(w, g, subs)
		if arch.Matrix.Sparse() {
			w.Line("group->rowLength[i] = rowIdx;")
		}
	})
	return err
}

func neuronPtrs(groups []codegen.NeuronGroupMerged) []*codegen.NeuronGroupMerged {
	out := make([]*codegen.NeuronGroupMerged, len(groups))
	for i := range groups {
		out[i] = &groups[i]
	}
	return out
}

func synapsePtrs(groups []codegen.SynapseGroupMerged) []*codegen.SynapseGroupMerged {
	out := make([]*codegen.SynapseGroupMerged, len(groups))
	for i := range groups {
		out[i] = &groups[i]
	}
	return out
}
