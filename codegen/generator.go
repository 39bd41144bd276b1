package codegen

import (
	"bytes"
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/snngen/snngen/model"
)

// Artifact is one generated source file
type Artifact struct {
	Name    string
	Content []byte
}

// Generate produces the full artifact set for a finalized network: neuron
// update, synapse update and initialisation sources. Output is a pure
// function of the network; regenerating an unchanged model yields
// byte-identical artifacts
func Generate(net *model.Network, backend Backend) ([]Artifact, error) {
	if !net.Finalized() {
		return nil, fmt.Errorf("network %v must be finalized before code generation", net.Name)
	}
	m := NewMergedModel(net, backend)
	artifacts := make([]Artifact, 0, 3)
	for _, phase := range []struct {
		name string
		gen  func(*CodeWriter, *MergedModel) error
	}{
		{"neuronUpdate.cc", GenerateNeuronUpdate},
		{"synapseUpdate.cc", GenerateSynapseUpdate},
		{"init.cc", GenerateInit},
	} {
		w := NewCodeWriter()
		if err := phase.gen(w, m); err != nil {
			return nil, fmt.Errorf("failed to generate %v: %w", phase.name, err)
		}
		artifacts = append(artifacts, Artifact{Name: phase.name, Content: []byte(w.String())})
	}
	return artifacts, nil
}

// WriteArtifacts persists artifacts under baseURL
func WriteArtifacts(ctx context.Context, artifacts []Artifact, baseURL string) error {
	service := afs.New()
	for _, a := range artifacts {
		URL := url.Join(baseURL, a.Name)
		if err := service.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(a.Content)); err != nil {
			return fmt.Errorf("failed to write %v: %w", URL, err)
		}
	}
	return nil
}

// GenerateNeuronUpdate emits the neuron update phase. The backend owns
// dispatch, staging and spike queues; the handlers below own the model
// semantics.
//
// Binding contract, incoming from the backend:
//   - func "field": access to a member struct field
//   - var "id": group-local neuron index
//   - var "t": current simulation time
//   - var "emitSpike" and, when the archetype needs events,
//     var "emitSpikeEvent": statement expressions recording a spike
func GenerateNeuronUpdate(w *CodeWriter, m *MergedModel) error {
	return m.Backend().GenNeuronUpdate(w, m, neuronSimHandler(m), neuronWriteBackHandler(m))
}

// GenerateSynapseUpdate emits presynaptic, postsynaptic and dynamics phases.
// The backend additionally binds "id_pre", "id_post", "id_syn", func
// "addToInSyn" and, for dendritically delayed projections, func
// "addToInSynDelay"; "sT_pre"/"sT_post" expressions when spike times are
// recorded
func GenerateSynapseUpdate(w *CodeWriter, m *MergedModel) error {
	return m.Backend().GenSynapseUpdate(w, m,
		presynapticHandler(m, false),
		presynapticHandler(m, true),
		learnPostHandler(m),
		synapseDynamicsHandler(m))
}

// GenerateInit emits the initialisation phase. The backend binds "id" for
// per-neuron and per-column work, "id_pre"/"id_post"/"id_syn" for synaptic
// work and func "addSynapse" for connectivity building
func GenerateInit(w *CodeWriter, m *MergedModel) error {
	return m.Backend().GenInit(w, m,
		neuronInitHandler(m),
		denseInitHandler(m),
		connectivityInitHandler(m),
		sparseInitHandler(m))
}

func fieldExpr(subs *Substitutions, name, context string) (string, error) {
	return subs.Apply("$(field,"+name+")", context)
}

func scalarLiteral(net *model.Network, v float64) string {
	return formatScalar(v) + net.ScalarSuffix()
}

// bindParams maps each parameter name to either the member struct field, for
// values that vary across the merged group, or an inlined literal
func bindParams(subs *Substitutions, net *model.Network, names []string, values []float64,
	heterogeneous func(p int) bool, field func(p int) string, context string) error {
	for p, name := range names {
		if heterogeneous(p) {
			expr, err := fieldExpr(subs, field(p), context)
			if err != nil {
				return err
			}
			subs.AddVar(name, expr)
		} else {
			subs.AddVar(name, scalarLiteral(net, values[p]))
		}
	}
	return nil
}

func neuronSimHandler(m *MergedModel) NeuronHandler {
	return func(w *CodeWriter, g *NeuronGroupMerged, subs *Substitutions) error {
		net := m.Network()
		arch := g.Archetype()
		ctx := g.Name() + " neuron update"
		id := subs.MustVar("id")

		if arch.Model.SupportCode != "" {
			w.Line("using namespace %s;", m.NeuronUpdateSupportCodeNamespace(arch.Model.SupportCode))
		}
		numNeurons, err := fieldExpr(subs, "numNeurons", ctx)
		if err != nil {
			return err
		}
		if arch.DelayRequired() {
			spkQuePtr, err := fieldExpr(subs, "spkQuePtr", ctx)
			if err != nil {
				return err
			}
			w.Line("const unsigned int readDelayOffset = ((*%s + %d) %% %d) * %s;",
				spkQuePtr, arch.NumDelaySlots()-1, arch.NumDelaySlots(), numNeurons)
			w.Line("const unsigned int writeDelayOffset = (*%s) * %s;", spkQuePtr, numNeurons)
		}

		ns := NewSubstitutions(subs)
		ns.AddVar("dt", scalarLiteral(net, net.DT))
		for _, v := range arch.Model.Vars {
			arr, err := fieldExpr(subs, v.Name, ctx)
			if err != nil {
				return err
			}
			w.Line("%s l%s = %s[%s];", v.Type, v.Name, arr, id)
			ns.AddVar(v.Name, "l"+v.Name)
			ns.AddVar(v.Name+"_pre", "l"+v.Name)
		}
		if err := bindParams(ns, net, arch.Model.Params, arch.ParamValues,
			g.ParamHeterogeneous, func(p int) string { return arch.Model.Params[p] }, ctx); err != nil {
			return err
		}
		if arch.SpikeTimeRequired() {
			sT, err := fieldExpr(subs, "sT", ctx)
			if err != nil {
				return err
			}
			read := id
			if arch.DelayRequired() {
				read = "readDelayOffset + " + id
			}
			w.Line("timepoint lsT = %s[%s];", sT, read)
			ns.AddVar("sT", "lsT")
		}
		w.Blank()

		// accumulate synaptic input
		w.Line("scalar Isyn = %s;", scalarLiteral(net, 0))
		ns.AddVar("Isyn", "Isyn")
		for i := range arch.InSyn() {
			if err := g.applyInSyn(w, m, ns, i, id, ctx); err != nil {
				return err
			}
		}
		w.Blank()

		if arch.Model.AutoRefractory && arch.Model.ThresholdConditionCode != "" {
			thr, err := ns.Apply(arch.Model.ThresholdConditionCode, ctx)
			if err != nil {
				return err
			}
			w.Line("const bool oldSpike = (%s);", thr)
		}

		sim, err := ns.Apply(arch.Model.SimCode, ctx)
		if err != nil {
			return err
		}
		w.Raw(sim)

		// spike-like events feed outgoing projections that fire below
		// the true threshold
		if arch.SpikeEventRequired() {
			if err := g.applySpikeEvents(w, ns, ctx); err != nil {
				return err
			}
		}

		if arch.Model.ThresholdConditionCode != "" {
			thr, err := ns.Apply(arch.Model.ThresholdConditionCode, ctx)
			if err != nil {
				return err
			}
			cond := thr
			if arch.Model.AutoRefractory {
				cond = fmt.Sprintf("(%s) && !oldSpike", thr)
			}
			var bodyErr error
			w.Scope(fmt.Sprintf("if (%s)", cond), func() {
				w.Line("%s;", ns.MustVar("emitSpike"))
				if arch.SpikeTimeRequired() {
					sT, err := fieldExpr(subs, "sT", ctx)
					if err != nil {
						bodyErr = err
						return
					}
					write := id
					if arch.DelayRequired() {
						write = "writeDelayOffset + " + id
					}
					w.Line("%s[%s] = %s;", sT, write, ns.MustVar("t"))
				}
				if arch.Model.ResetCode != "" {
					reset, err := ns.Apply(arch.Model.ResetCode, ctx)
					if err != nil {
						bodyErr = err
						return
					}
					w.Raw(reset)
				}
			})
			if bodyErr != nil {
				return bodyErr
			}
		}
		return nil
	}
}

// applyInSyn folds one incoming projection's postsynaptic model into Isyn
func (g *NeuronGroupMerged) applyInSyn(w *CodeWriter, m *MergedModel, ns *Substitutions,
	insyn int, id, ctx string) error {
	net := m.Network()
	sg := g.InSynAt(0, insyn)
	var blockErr error
	w.Scope("", func() {
		if sg.PSModel.SupportCode != "" {
			w.Line("using namespace %s;", m.PostsynapticDynamicsSupportCodeNamespace(sg.PSModel.SupportCode))
		}
		inSynArr, err := fieldExpr(ns, fmt.Sprintf("inSynInSyn%d", insyn), ctx)
		if err != nil {
			blockErr = err
			return
		}
		local := fmt.Sprintf("linSyn%d", insyn)
		w.Line("scalar %s = %s[%s];", local, inSynArr, id)
		if sg.DendriticDelayRequired() {
			delayArr, err := fieldExpr(ns, fmt.Sprintf("denDelayInSyn%d", insyn), ctx)
			if err != nil {
				blockErr = err
				return
			}
			delayPtr, err := fieldExpr(ns, fmt.Sprintf("denDelayPtrInSyn%d", insyn), ctx)
			if err != nil {
				blockErr = err
				return
			}
			numNeurons, err := fieldExpr(ns, "numNeurons", ctx)
			if err != nil {
				blockErr = err
				return
			}
			front := fmt.Sprintf("%s[((*%s) * %s) + %s]", delayArr, delayPtr, numNeurons, id)
			w.Line("%s += %s;", local, front)
			w.Line("%s = %s;", front, scalarLiteral(net, 0))
		}

		ps := NewSubstitutions(ns)
		ps.AddVar("inSyn", local)
		if sg.Matrix.Individual() {
			for _, v := range sg.PSModel.Vars {
				arr, err := fieldExpr(ns, fmt.Sprintf("%sInSyn%d", v.Name, insyn), ctx)
				if err != nil {
					blockErr = err
					return
				}
				ps.AddVar(v.Name, fmt.Sprintf("%s[%s]", arr, id))
			}
		}
		if err := bindParams(ps, net, sg.PSModel.Params, sg.PSParamValues,
			func(p int) bool { return g.PSParamHeterogeneous(insyn, p) },
			func(p int) string { return fmt.Sprintf("%sInSyn%d", sg.PSModel.Params[p], insyn) },
			ctx); err != nil {
			blockErr = err
			return
		}

		if sg.PSModel.ApplyInputCode != "" {
			apply, err := ps.Apply(sg.PSModel.ApplyInputCode, ctx)
			if err != nil {
				blockErr = err
				return
			}
			w.Raw(apply)
		}
		if sg.PSModel.DecayCode != "" {
			decay, err := ps.Apply(sg.PSModel.DecayCode, ctx)
			if err != nil {
				blockErr = err
				return
			}
			w.Raw(decay)
		}
		w.Line("%s[%s] = %s;", inSynArr, id, local)
	})
	return blockErr
}

// applySpikeEvents tests every outgoing spike-like-event threshold and
// records an event when any fires
func (g *NeuronGroupMerged) applySpikeEvents(w *CodeWriter, ns *Substitutions, ctx string) error {
	arch := g.Archetype()
	net := arch.Net()
	w.Line("bool spikeLikeEvent = false;")
	for _, i := range arch.OutSyn() {
		sg := net.Synapse(i)
		if sg.WUModel.EventCode == "" {
			continue
		}
		es := NewSubstitutions(ns)
		for p, name := range sg.WUModel.Params {
			es.AddVar(name, scalarLiteral(net, sg.WUParamValues[p]))
		}
		cond, err := es.Apply(sg.WUModel.EventThresholdConditionCode, ctx)
		if err != nil {
			return err
		}
		w.Line("spikeLikeEvent |= (%s);", cond)
	}
	var bodyErr error
	w.Scope("if (spikeLikeEvent)", func() {
		w.Line("%s;", ns.MustVar("emitSpikeEvent"))
	})
	return bodyErr
}

func neuronWriteBackHandler(m *MergedModel) NeuronHandler {
	return func(w *CodeWriter, g *NeuronGroupMerged, subs *Substitutions) error {
		arch := g.Archetype()
		ctx := g.Name() + " write back"
		id := subs.MustVar("id")
		for _, v := range arch.Model.Vars {
			if v.Access == model.ReadOnly {
				continue
			}
			arr, err := fieldExpr(subs, v.Name, ctx)
			if err != nil {
				return err
			}
			w.Line("%s[%s] = l%s;", arr, id, v.Name)
		}
		return nil
	}
}

// presynapticHandler substitutes SimCode (event == false) or EventCode
// (event == true) for one true spike or spike-like event traversing one
// synapse
func presynapticHandler(m *MergedModel, event bool) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		arch := g.Archetype()
		ctx := g.Name() + " presynaptic update"
		code := arch.WUModel.SimCode
		if event {
			code = arch.WUModel.EventCode
			ctx = g.Name() + " presynaptic event"
		}
		if code == "" {
			return nil
		}
		if arch.WUModel.SupportCode != "" {
			w.Line("using namespace %s;", m.PresynapticUpdateSupportCodeNamespace(arch.WUModel.SupportCode))
		}
		ss, err := g.synapseSubstitutions(subs, ctx)
		if err != nil {
			return err
		}
		out, err := ss.Apply(code, ctx)
		if err != nil {
			return err
		}
		w.Raw(out)
		return nil
	}
}

func learnPostHandler(m *MergedModel) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		arch := g.Archetype()
		ctx := g.Name() + " postsynaptic update"
		if arch.WUModel.SupportCode != "" {
			w.Line("using namespace %s;", m.PostsynapticUpdateSupportCodeNamespace(arch.WUModel.SupportCode))
		}
		ss, err := g.synapseSubstitutions(subs, ctx)
		if err != nil {
			return err
		}
		out, err := ss.Apply(arch.WUModel.LearnPostCode, ctx)
		if err != nil {
			return err
		}
		w.Raw(out)
		return nil
	}
}

func synapseDynamicsHandler(m *MergedModel) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		arch := g.Archetype()
		ctx := g.Name() + " synapse dynamics"
		if arch.WUModel.SupportCode != "" {
			w.Line("using namespace %s;", m.SynapseDynamicsSupportCodeNamespace(arch.WUModel.SupportCode))
		}
		ss, err := g.synapseSubstitutions(subs, ctx)
		if err != nil {
			return err
		}
		out, err := ss.Apply(arch.WUModel.SynapseDynamicsCode, ctx)
		if err != nil {
			return err
		}
		w.Raw(out)
		return nil
	}
}

// synapseSubstitutions binds weight update variables, parameters, spike
// times and the timestep on top of the backend's positional bindings
func (g *SynapseGroupMerged) synapseSubstitutions(subs *Substitutions, ctx string) (*Substitutions, error) {
	arch := g.Archetype()
	net := arch.SrcGroup().Net()
	ss := NewSubstitutions(subs)
	ss.AddVar("dt", scalarLiteral(net, net.DT))
	if arch.Matrix.Individual() {
		idSyn := ss.MustVar("id_syn")
		for _, v := range arch.WUModel.Vars {
			arr, err := fieldExpr(subs, v.Name, ctx)
			if err != nil {
				return nil, err
			}
			ss.AddVar(v.Name, fmt.Sprintf("%s[%s]", arr, idSyn))
		}
	} else {
		// global weights fold the initialiser constant into the code
		for i, v := range arch.WUModel.Vars {
			ss.AddVar(v.Name, scalarLiteral(net, arch.WUVarInits[i].Constant))
		}
	}
	if err := bindParams(ss, net, arch.WUModel.Params, arch.WUParamValues,
		g.WUParamHeterogeneous, func(p int) string { return arch.WUModel.Params[p] }, ctx); err != nil {
		return nil, err
	}
	// "sT_pre" and "sT_post" resolve through the backend's bindings when
	// the projection records spike times
	return ss, nil
}

func neuronInitHandler(m *MergedModel) NeuronHandler {
	return func(w *CodeWriter, g *NeuronGroupMerged, subs *Substitutions) error {
		net := m.Network()
		arch := g.Archetype()
		ctx := g.Name() + " neuron init"
		id := subs.MustVar("id")

		for v, mv := range arch.Model.Vars {
			arr, err := fieldExpr(subs, mv.Name, ctx)
			if err != nil {
				return err
			}
			target := fmt.Sprintf("%s[%s]", arr, id)
			if err := genVarInit(w, subs, net, target, arch.VarInits[v],
				g.VarInitConstantHeterogeneous(v), "init"+mv.Name, ctx); err != nil {
				return err
			}
		}
		if arch.SpikeTimeRequired() {
			sT, err := fieldExpr(subs, "sT", ctx)
			if err != nil {
				return err
			}
			for d := uint(0); d < arch.NumDelaySlots(); d++ {
				numNeurons, err := fieldExpr(subs, "numNeurons", ctx)
				if err != nil {
					return err
				}
				w.Line("%s[(%d * %s) + %s] = -TIME_MAX;", sT, d, numNeurons, id)
			}
		}
		for i := range arch.InSyn() {
			sg := g.InSynAt(0, i)
			inSynArr, err := fieldExpr(subs, fmt.Sprintf("inSynInSyn%d", i), ctx)
			if err != nil {
				return err
			}
			w.Line("%s[%s] = %s;", inSynArr, id, scalarLiteral(net, 0))
			if sg.Matrix.Individual() {
				for v, pv := range sg.PSModel.Vars {
					arr, err := fieldExpr(subs, fmt.Sprintf("%sInSyn%d", pv.Name, i), ctx)
					if err != nil {
						return err
					}
					target := fmt.Sprintf("%s[%s]", arr, id)
					if err := genVarInit(w, subs, net, target, sg.PSVarInits[v], false, "", ctx); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
}

// genVarInit emits one element initialisation: snippet code assigning to
// $(value), or a constant rendered as a literal or struct field
func genVarInit(w *CodeWriter, subs *Substitutions, net *model.Network, target string,
	init model.VarInit, heterogeneous bool, field, ctx string) error {
	if init.Code != "" {
		vs := NewSubstitutions(subs)
		vs.AddVar("value", target)
		out, err := vs.Apply(init.Code, ctx)
		if err != nil {
			return err
		}
		w.Raw(out)
		return nil
	}
	value := scalarLiteral(net, init.Constant)
	if heterogeneous {
		expr, err := fieldExpr(subs, field, ctx)
		if err != nil {
			return err
		}
		value = expr
	}
	w.Line("%s = %s;", target, value)
	return nil
}

func denseInitHandler(m *MergedModel) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		return g.genSynapseVarInit(w, m, subs, g.Name()+" dense init")
	}
}

func sparseInitHandler(m *MergedModel) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		if !g.Archetype().WUVarInitRequired() {
			return nil
		}
		return g.genSynapseVarInit(w, m, subs, g.Name()+" sparse init")
	}
}

// genSynapseVarInit initialises every weight update variable of one synapse;
// the backend binds "id_syn" to the element being initialised
func (g *SynapseGroupMerged) genSynapseVarInit(w *CodeWriter, m *MergedModel,
	subs *Substitutions, ctx string) error {
	net := m.Network()
	arch := g.Archetype()
	idSyn := subs.MustVar("id_syn")
	for v, mv := range arch.WUModel.Vars {
		arr, err := fieldExpr(subs, mv.Name, ctx)
		if err != nil {
			return err
		}
		target := fmt.Sprintf("%s[%s]", arr, idSyn)
		if err := genVarInit(w, subs, net, target, arch.WUVarInits[v],
			g.WUVarInitConstantHeterogeneous(v), "init"+mv.Name, ctx); err != nil {
			return err
		}
	}
	return nil
}

func connectivityInitHandler(m *MergedModel) SynapseHandler {
	return func(w *CodeWriter, g *SynapseGroupMerged, subs *Substitutions) error {
		net := m.Network()
		arch := g.Archetype()
		ctx := g.Name() + " connectivity init"

		cs := NewSubstitutions(subs)
		numSrc, err := fieldExpr(subs, "numSrcNeurons", ctx)
		if err != nil {
			return err
		}
		numTrg, err := fieldExpr(subs, "numTrgNeurons", ctx)
		if err != nil {
			return err
		}
		cs.AddVar("num_pre", numSrc)
		cs.AddVar("num_post", numTrg)
		cs.AddVar("endRow", "break")
		if err := bindParams(cs, net, arch.Connectivity.Params, arch.ConnectivityParams,
			g.ConnectivityParamHeterogeneous,
			func(p int) string { return arch.Connectivity.Params[p] }, ctx); err != nil {
			return err
		}
		for _, sv := range arch.Connectivity.RowBuildStateVars {
			init := sv.Init
			if init == "" {
				init = "0"
			}
			out, err := cs.Apply(init, ctx)
			if err != nil {
				return err
			}
			w.Line("%s %s = %s;", sv.Type, sv.Name, out)
		}
		body, err := cs.Apply(arch.Connectivity.RowBuildCode, ctx)
		if err != nil {
			return err
		}
		w.Scope("while (true)", func() {
			w.Raw(body)
		})
		return nil
	}
}
