package codegen

import (
	"github.com/snngen/snngen/model"
)

// MergedModel is the merged view of one finalized network for one backend:
// ten independent merged-group collections, one per role, plus the
// deduplicated support code of every code-bearing update phase. It is built
// once per code-generation run and read-only afterwards; it references, never
// copies, the underlying network
type MergedModel struct {
	net     *model.Network
	backend Backend

	neuronUpdateGroups                []NeuronGroupMerged
	presynapticUpdateGroups           []SynapseGroupMerged
	postsynapticUpdateGroups          []SynapseGroupMerged
	synapseDynamicsGroups             []SynapseGroupMerged
	neuronInitGroups                  []NeuronGroupMerged
	synapseDenseInitGroups            []SynapseGroupMerged
	synapseConnectivityInitGroups     []SynapseGroupMerged
	synapseSparseInitGroups           []SynapseGroupMerged
	neuronSpikeQueueUpdateGroups      []NeuronGroupMerged
	synapseDendriticDelayUpdateGroups []SynapseGroupMerged

	neuronUpdateSupportCode         *SupportCodeSet
	postsynapticDynamicsSupportCode *SupportCodeSet
	presynapticUpdateSupportCode    *SupportCodeSet
	postsynapticUpdateSupportCode   *SupportCodeSet
	synapseDynamicsSupportCode      *SupportCodeSet
}

// NewMergedModel runs every merge pass over net and registers all support
// code fragments
func NewMergedModel(net *model.Network, backend Backend) *MergedModel {
	m := &MergedModel{
		net:                             net,
		backend:                         backend,
		neuronUpdateSupportCode:         NewSupportCodeSet("supportNeuronUpdate"),
		postsynapticDynamicsSupportCode: NewSupportCodeSet("supportPostsynapticDynamics"),
		presynapticUpdateSupportCode:    NewSupportCodeSet("supportPresynapticUpdate"),
		postsynapticUpdateSupportCode:   NewSupportCodeSet("supportPostsynapticUpdate"),
		synapseDynamicsSupportCode:      NewSupportCodeSet("supportSynapseDynamics"),
	}

	m.neuronUpdateGroups = m.mergeNeuronGroups(RoleNeuronUpdate,
		func(*model.NeuronGroup) bool { return true }, neuronUpdateCanMerge)
	m.presynapticUpdateGroups = m.mergeSynapseGroups(RolePresynapticUpdate,
		func(sg *model.SynapseGroup) bool {
			return sg.WUModel.SimCode != "" || sg.WUModel.EventCode != ""
		}, synapseUpdateCanMerge)
	m.postsynapticUpdateGroups = m.mergeSynapseGroups(RolePostsynapticUpdate,
		func(sg *model.SynapseGroup) bool { return sg.WUModel.LearnPostCode != "" },
		synapseUpdateCanMerge)
	m.synapseDynamicsGroups = m.mergeSynapseGroups(RoleSynapseDynamics,
		func(sg *model.SynapseGroup) bool { return sg.WUModel.SynapseDynamicsCode != "" },
		synapseUpdateCanMerge)
	m.neuronInitGroups = m.mergeNeuronGroups(RoleNeuronInit,
		func(*model.NeuronGroup) bool { return true }, neuronInitCanMerge)
	m.synapseDenseInitGroups = m.mergeSynapseGroups(RoleSynapseDenseInit,
		func(sg *model.SynapseGroup) bool { return sg.Matrix.Dense() && sg.WUVarInitRequired() },
		synapseInitCanMerge)
	m.synapseConnectivityInitGroups = m.mergeSynapseGroups(RoleSynapseConnectivityInit,
		func(sg *model.SynapseGroup) bool { return sg.Connectivity != nil },
		connectivityInitCanMerge)
	m.synapseSparseInitGroups = m.mergeSynapseGroups(RoleSynapseSparseInit,
		SparseInitRequired, synapseInitCanMerge)
	m.neuronSpikeQueueUpdateGroups = m.mergeNeuronGroups(RoleNeuronSpikeQueueUpdate,
		func(*model.NeuronGroup) bool { return true }, spikeQueueUpdateCanMerge)
	m.synapseDendriticDelayUpdateGroups = m.mergeSynapseGroups(RoleSynapseDendriticDelayUpdate,
		func(sg *model.SynapseGroup) bool { return sg.DendriticDelayRequired() },
		dendriticDelayUpdateCanMerge)

	for _, ng := range net.Neurons() {
		m.neuronUpdateSupportCode.Register(ng.Model.SupportCode)
	}
	for _, sg := range net.Synapses() {
		m.postsynapticDynamicsSupportCode.Register(sg.PSModel.SupportCode)
		if sg.WUModel.SimCode != "" || sg.WUModel.EventCode != "" {
			m.presynapticUpdateSupportCode.Register(sg.WUModel.SupportCode)
		}
		if sg.WUModel.LearnPostCode != "" {
			m.postsynapticUpdateSupportCode.Register(sg.WUModel.SupportCode)
		}
		if sg.WUModel.SynapseDynamicsCode != "" {
			m.synapseDynamicsSupportCode.Register(sg.WUModel.SupportCode)
		}
	}
	return m
}

// Network returns the underlying, unmerged network
func (m *MergedModel) Network() *model.Network { return m.net }

// Backend returns the backend this merged model was built for
func (m *MergedModel) Backend() Backend { return m.backend }

// MergedNeuronUpdateGroups returns merged populations requiring update
func (m *MergedModel) MergedNeuronUpdateGroups() []NeuronGroupMerged { return m.neuronUpdateGroups }

// MergedPresynapticUpdateGroups returns merged projections requiring
// presynaptic updates
func (m *MergedModel) MergedPresynapticUpdateGroups() []SynapseGroupMerged {
	return m.presynapticUpdateGroups
}

// MergedPostsynapticUpdateGroups returns merged projections requiring
// postsynaptic learning
func (m *MergedModel) MergedPostsynapticUpdateGroups() []SynapseGroupMerged {
	return m.postsynapticUpdateGroups
}

// MergedSynapseDynamicsGroups returns merged projections with per-timestep
// synapse dynamics
func (m *MergedModel) MergedSynapseDynamicsGroups() []SynapseGroupMerged {
	return m.synapseDynamicsGroups
}

// MergedNeuronInitGroups returns merged populations requiring initialisation
func (m *MergedModel) MergedNeuronInitGroups() []NeuronGroupMerged { return m.neuronInitGroups }

// MergedSynapseDenseInitGroups returns merged dense projections requiring
// weight initialisation
func (m *MergedModel) MergedSynapseDenseInitGroups() []SynapseGroupMerged {
	return m.synapseDenseInitGroups
}

// MergedSynapseConnectivityInitGroups returns merged projections with
// procedural connectivity builders
func (m *MergedModel) MergedSynapseConnectivityInitGroups() []SynapseGroupMerged {
	return m.synapseConnectivityInitGroups
}

// MergedSynapseSparseInitGroups returns merged sparse projections requiring
// post-connectivity initialisation
func (m *MergedModel) MergedSynapseSparseInitGroups() []SynapseGroupMerged {
	return m.synapseSparseInitGroups
}

// MergedNeuronSpikeQueueUpdateGroups returns merged populations whose spike
// queues rotate before each step
func (m *MergedModel) MergedNeuronSpikeQueueUpdateGroups() []NeuronGroupMerged {
	return m.neuronSpikeQueueUpdateGroups
}

// MergedSynapseDendriticDelayUpdateGroups returns merged projections whose
// dendritic delay pointers rotate before each step
func (m *MergedModel) MergedSynapseDendriticDelayUpdateGroups() []SynapseGroupMerged {
	return m.synapseDendriticDelayUpdateGroups
}

func (m *MergedModel) GenNeuronUpdateSupportCode(w *CodeWriter) { m.neuronUpdateSupportCode.Gen(w) }

func (m *MergedModel) GenPostsynapticDynamicsSupportCode(w *CodeWriter) {
	m.postsynapticDynamicsSupportCode.Gen(w)
}

func (m *MergedModel) GenPresynapticUpdateSupportCode(w *CodeWriter) {
	m.presynapticUpdateSupportCode.Gen(w)
}

func (m *MergedModel) GenPostsynapticUpdateSupportCode(w *CodeWriter) {
	m.postsynapticUpdateSupportCode.Gen(w)
}

func (m *MergedModel) GenSynapseDynamicsSupportCode(w *CodeWriter) {
	m.synapseDynamicsSupportCode.Gen(w)
}

func (m *MergedModel) NeuronUpdateSupportCodeNamespace(code string) string {
	return m.neuronUpdateSupportCode.Namespace(code)
}

func (m *MergedModel) PostsynapticDynamicsSupportCodeNamespace(code string) string {
	return m.postsynapticDynamicsSupportCode.Namespace(code)
}

func (m *MergedModel) PresynapticUpdateSupportCodeNamespace(code string) string {
	return m.presynapticUpdateSupportCode.Namespace(code)
}

func (m *MergedModel) PostsynapticUpdateSupportCodeNamespace(code string) string {
	return m.postsynapticUpdateSupportCode.Namespace(code)
}

func (m *MergedModel) SynapseDynamicsSupportCodeNamespace(code string) string {
	return m.synapseDynamicsSupportCode.Namespace(code)
}

func (m *MergedModel) mergeNeuronGroups(role Role, filter func(*model.NeuronGroup) bool,
	canMerge func(a, b *model.NeuronGroup) bool) []NeuronGroupMerged {
	var refs []int
	for i, ng := range m.net.Neurons() {
		if filter(ng) {
			refs = append(refs, i)
		}
	}
	classes := Partition(refs, func(a, b int) bool {
		return canMerge(m.net.Neuron(a), m.net.Neuron(b))
	})
	groups := make([]NeuronGroupMerged, len(classes))
	for i, class := range classes {
		groups[i] = NeuronGroupMerged{index: i, role: role, refs: class, net: m.net, prefix: m.variablePrefix()}
	}
	return groups
}

// variablePrefix names the backend's array address space; merged struct
// field values refer to arrays through it
func (m *MergedModel) variablePrefix() string {
	if m.backend == nil {
		return "d_"
	}
	return m.backend.GenVariablePrefix()
}

func (m *MergedModel) mergeSynapseGroups(role Role, filter func(*model.SynapseGroup) bool,
	canMerge func(a, b *model.SynapseGroup) bool) []SynapseGroupMerged {
	var refs []int
	for i, sg := range m.net.Synapses() {
		if filter(sg) {
			refs = append(refs, i)
		}
	}
	classes := Partition(refs, func(a, b int) bool {
		return canMerge(m.net.Synapse(a), m.net.Synapse(b))
	})
	groups := make([]SynapseGroupMerged, len(classes))
	for i, class := range classes {
		groups[i] = SynapseGroupMerged{index: i, role: role, refs: class, net: m.net, prefix: m.variablePrefix()}
	}
	return groups
}

// SparseInitRequired reports whether a projection participates in the sparse
// initialisation pass: ragged connectivity whose synapse state, postsynaptic
// learning or dynamics need the connectivity to be in place first
func SparseInitRequired(sg *model.SynapseGroup) bool {
	return sg.Matrix.Sparse() &&
		(sg.WUVarInitRequired() || sg.WUModel.LearnPostCode != "" || sg.WUModel.SynapseDynamicsCode != "")
}

// --- compatibility predicates -------------------------------------------
//
// Each predicate encodes structural identity of everything that becomes
// compile-time-fixed struct layout or literal code: variable lists, model
// equation identity, feature flags, delay slot counts. Numeric parameter
// values never participate; they stay per-member runtime fields.

func neuronFlagsEqual(a, b *model.NeuronGroup) bool {
	return a.DelayRequired() == b.DelayRequired() &&
		a.NumDelaySlots() == b.NumDelaySlots() &&
		a.SpikeEventRequired() == b.SpikeEventRequired() &&
		a.SpikeTimeRequired() == b.SpikeTimeRequired() &&
		a.TrueSpikeRequired() == b.TrueSpikeRequired() &&
		a.SimRNGRequired() == b.SimRNGRequired()
}

// inSynStructureEqual requires positionally matching in-projection structure:
// postsynaptic model identity, weight storage and dendritic delay layout
func inSynStructureEqual(a, b *model.NeuronGroup) bool {
	as, bs := a.InSyn(), b.InSyn()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		sa, sb := a.Net().Synapse(as[i]), b.Net().Synapse(bs[i])
		if !sa.PSModel.CanBeMerged(sb.PSModel) ||
			sa.Matrix.Individual() != sb.Matrix.Individual() ||
			sa.DendriticDelayRequired() != sb.DendriticDelayRequired() ||
			sa.MaxDendriticDelaySlots != sb.MaxDendriticDelaySlots {
			return false
		}
	}
	return true
}

// spikeEventConditionsEqual compares the outgoing spike-like-event threshold
// set, which is inlined into the neuron update body
func spikeEventConditionsEqual(a, b *model.NeuronGroup) bool {
	ac, bc := spikeEventConditions(a), spikeEventConditions(b)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}

type spikeEventCondition struct {
	Code        string
	SupportCode string
}

func spikeEventConditions(g *model.NeuronGroup) []spikeEventCondition {
	var conds []spikeEventCondition
	for _, i := range g.OutSyn() {
		sg := g.Net().Synapse(i)
		if sg.WUModel.EventCode != "" {
			conds = append(conds, spikeEventCondition{
				Code:        sg.WUModel.EventThresholdConditionCode,
				SupportCode: sg.WUModel.SupportCode,
			})
		}
	}
	return conds
}

func neuronUpdateCanMerge(a, b *model.NeuronGroup) bool {
	return a.Model.CanBeMerged(b.Model) &&
		neuronFlagsEqual(a, b) &&
		inSynStructureEqual(a, b) &&
		spikeEventConditionsEqual(a, b)
}

func neuronInitCanMerge(a, b *model.NeuronGroup) bool {
	return a.Model.CanBeMerged(b.Model) &&
		neuronFlagsEqual(a, b) &&
		inSynStructureEqual(a, b) &&
		model.VarInitsStructurallyEqual(a.VarInits, b.VarInits)
}

func spikeQueueUpdateCanMerge(a, b *model.NeuronGroup) bool {
	return a.DelayRequired() == b.DelayRequired() &&
		a.NumDelaySlots() == b.NumDelaySlots() &&
		a.SpikeEventRequired() == b.SpikeEventRequired() &&
		a.TrueSpikeRequired() == b.TrueSpikeRequired()
}

func synapseUpdateCanMerge(a, b *model.SynapseGroup) bool {
	return a.WUModel.CanBeMerged(b.WUModel) &&
		a.Matrix == b.Matrix &&
		a.Span == b.Span &&
		a.DelaySteps == b.DelaySteps &&
		a.BackPropDelaySteps == b.BackPropDelaySteps &&
		a.MaxDendriticDelaySlots == b.MaxDendriticDelaySlots &&
		a.SrcGroup().DelayRequired() == b.SrcGroup().DelayRequired() &&
		a.SrcGroup().NumDelaySlots() == b.SrcGroup().NumDelaySlots() &&
		a.TrgGroup().DelayRequired() == b.TrgGroup().DelayRequired() &&
		a.TrgGroup().NumDelaySlots() == b.TrgGroup().NumDelaySlots() &&
		a.SrcGroup().SpikeTimeRequired() == b.SrcGroup().SpikeTimeRequired() &&
		a.TrgGroup().SpikeTimeRequired() == b.TrgGroup().SpikeTimeRequired()
}

func synapseInitCanMerge(a, b *model.SynapseGroup) bool {
	return a.Matrix == b.Matrix &&
		model.VarsEqual(a.WUModel.Vars, b.WUModel.Vars) &&
		model.VarInitsStructurallyEqual(a.WUVarInits, b.WUVarInits) &&
		(a.WUModel.LearnPostCode != "") == (b.WUModel.LearnPostCode != "") &&
		(a.WUModel.SynapseDynamicsCode != "") == (b.WUModel.SynapseDynamicsCode != "")
}

func connectivityInitCanMerge(a, b *model.SynapseGroup) bool {
	return a.Matrix == b.Matrix &&
		a.Connectivity.CanBeMerged(b.Connectivity)
}

func dendriticDelayUpdateCanMerge(a, b *model.SynapseGroup) bool {
	return a.MaxDendriticDelaySlots == b.MaxDendriticDelaySlots
}
