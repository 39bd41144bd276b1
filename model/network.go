package model

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// MatrixType describes connectivity layout and weight storage of a projection
type MatrixType int

const (
	DenseIndividual MatrixType = iota
	DenseGlobal
	SparseIndividual
	SparseGlobal
	BitmaskGlobal
)

// Dense reports whether every pre/post pair has a synapse slot
func (m MatrixType) Dense() bool { return m == DenseIndividual || m == DenseGlobal }

// Sparse reports whether connectivity is a ragged row-length/index matrix
func (m MatrixType) Sparse() bool { return m == SparseIndividual || m == SparseGlobal }

// Bitmask reports whether connectivity is a packed bitfield
func (m MatrixType) Bitmask() bool { return m == BitmaskGlobal }

// Individual reports whether each synapse carries its own state variables
func (m MatrixType) Individual() bool { return m == DenseIndividual || m == SparseIndividual }

func (m MatrixType) String() string {
	switch m {
	case DenseIndividual:
		return "dense-individual"
	case DenseGlobal:
		return "dense-global"
	case SparseIndividual:
		return "sparse-individual"
	case SparseGlobal:
		return "sparse-global"
	case BitmaskGlobal:
		return "bitmask-global"
	}
	return "unknown"
}

// SpanType selects how presynaptic update work is distributed over threads
type SpanType int

const (
	// PostSpan assigns one thread per postsynaptic target
	PostSpan SpanType = iota
	// PreSpan assigns one thread per presynaptic spike row
	PreSpan
)

// NeuronGroup is a population of identical neurons. Configuration fields are
// set through Network.AddNeuronGroup; derived fields are computed by Finalize
// and immutable afterwards
type NeuronGroup struct {
	Name        string
	NumNeurons  uint
	Model       *NeuronModel
	ParamValues []float64
	VarInits    []VarInit

	net           *Network
	inSyn         []int
	outSyn        []int
	delayRequired bool
	numDelaySlots uint
	spikeEvent    bool
	spikeTime     bool
	trueSpike     bool
	simRNG        bool
}

// DelayRequired reports whether outgoing projections read this population's
// spikes through an axonal delay queue
func (g *NeuronGroup) DelayRequired() bool { return g.delayRequired }

// NumDelaySlots is the spike queue depth; 1 when no delay is required
func (g *NeuronGroup) NumDelaySlots() uint { return g.numDelaySlots }

// SpikeEventRequired reports whether any outgoing projection fires on
// spike-like events
func (g *NeuronGroup) SpikeEventRequired() bool { return g.spikeEvent }

// SpikeTimeRequired reports whether last-spike times must be recorded
func (g *NeuronGroup) SpikeTimeRequired() bool { return g.spikeTime }

// TrueSpikeRequired reports whether threshold crossings must be queued for
// downstream projections
func (g *NeuronGroup) TrueSpikeRequired() bool { return g.trueSpike }

// SimRNGRequired reports whether update code draws per-neuron random numbers
func (g *NeuronGroup) SimRNGRequired() bool { return g.simRNG }

// InSyn returns indices of incoming projections, in declaration order
func (g *NeuronGroup) InSyn() []int { return g.inSyn }

// Net returns the network this population belongs to
func (g *NeuronGroup) Net() *Network { return g.net }

// OutSyn returns indices of outgoing projections, in declaration order
func (g *NeuronGroup) OutSyn() []int { return g.outSyn }

// SynapseGroup is a projection between two populations
type SynapseGroup struct {
	Name                   string
	Matrix                 MatrixType
	Span                   SpanType
	DelaySteps             uint
	BackPropDelaySteps     uint
	MaxDendriticDelaySlots uint
	WUModel                *WeightUpdateModel
	WUParamValues          []float64
	WUVarInits             []VarInit
	WUPreVarInits          []VarInit
	WUPostVarInits         []VarInit
	PSModel                *PostsynapticModel
	PSParamValues          []float64
	PSVarInits             []VarInit
	Connectivity           *SparseConnectivityInit
	ConnectivityParams     []float64
	DenseWeights           *mat.Dense

	net          *Network
	src, trg     int
	maxRowLength uint
}

// Src returns the index of the presynaptic population
func (g *SynapseGroup) Src() int { return g.src }

// Trg returns the index of the postsynaptic population
func (g *SynapseGroup) Trg() int { return g.trg }

// SrcGroup returns the presynaptic population
func (g *SynapseGroup) SrcGroup() *NeuronGroup { return g.net.Neuron(g.src) }

// TrgGroup returns the postsynaptic population
func (g *SynapseGroup) TrgGroup() *NeuronGroup { return g.net.Neuron(g.trg) }

// MaxRowLength bounds per-row fan-out for sparse matrices; for dense matrices
// it equals the target population size
func (g *SynapseGroup) MaxRowLength() uint { return g.maxRowLength }

// DendriticDelayRequired reports whether postsynaptic input passes through a
// per-target rotating delay buffer
func (g *SynapseGroup) DendriticDelayRequired() bool { return g.MaxDendriticDelaySlots > 1 }

// WUVarInitRequired reports whether per-synapse variables carry initialisers
func (g *SynapseGroup) WUVarInitRequired() bool {
	return g.Matrix.Individual() && len(g.WUVarInits) > 0
}

// SynapseConfig carries everything Network.AddSynapseGroup needs
type SynapseConfig struct {
	Name                   string
	Source                 string
	Target                 string
	Matrix                 MatrixType
	Span                   SpanType
	DelaySteps             uint
	BackPropDelaySteps     uint
	MaxDendriticDelaySlots uint
	MaxRowLength           uint
	WU                     *WeightUpdateModel
	WUParams               []float64
	WUVarInits             []VarInit
	WUPreVarInits          []VarInit
	WUPostVarInits         []VarInit
	PS                     *PostsynapticModel
	PSParams               []float64
	PSVarInits             []VarInit
	Connectivity           *SparseConnectivityInit
	ConnectivityParams     []float64
	DenseWeights           *mat.Dense
}

// Network owns every population and projection of one model description.
// Groups are stored in declaration order and addressed by index; nothing
// downstream copies them
type Network struct {
	Name          string
	DT            float64
	Precision     string
	TimePrecision string

	neurons   []*NeuronGroup
	synapses  []*SynapseGroup
	finalized bool
}

// New creates an empty network with single-precision defaults
func New(name string) *Network {
	return &Network{
		Name:      name,
		DT:        0.1,
		Precision: "float",
	}
}

// AddNeuronGroup declares a population. Must be called before Finalize
func (n *Network) AddNeuronGroup(name string, numNeurons uint, m *NeuronModel, params []float64, varInits []VarInit) (*NeuronGroup, error) {
	if n.finalized {
		return nil, fmt.Errorf("network %q is finalized", n.Name)
	}
	if name == "" {
		return nil, fmt.Errorf("neuron group needs a name")
	}
	if n.neuronNamed(name) != nil {
		return nil, fmt.Errorf("duplicate neuron group %q", name)
	}
	if numNeurons == 0 {
		return nil, fmt.Errorf("neuron group %q is empty", name)
	}
	if m == nil {
		return nil, fmt.Errorf("neuron group %q has no model", name)
	}
	if len(params) != len(m.Params) {
		return nil, fmt.Errorf("neuron group %q: %d parameter values for %d parameters", name, len(params), len(m.Params))
	}
	if len(varInits) != len(m.Vars) {
		return nil, fmt.Errorf("neuron group %q: %d initialisers for %d variables", name, len(varInits), len(m.Vars))
	}
	g := &NeuronGroup{
		Name:        name,
		NumNeurons:  numNeurons,
		Model:       m,
		ParamValues: params,
		VarInits:    varInits,
		net:         n,
	}
	n.neurons = append(n.neurons, g)
	return g, nil
}

// AddSynapseGroup declares a projection between two existing populations
func (n *Network) AddSynapseGroup(cfg SynapseConfig) (*SynapseGroup, error) {
	if n.finalized {
		return nil, fmt.Errorf("network %q is finalized", n.Name)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("synapse group needs a name")
	}
	if n.synapseNamed(cfg.Name) != nil {
		return nil, fmt.Errorf("duplicate synapse group %q", cfg.Name)
	}
	src := n.neuronIndex(cfg.Source)
	if src < 0 {
		return nil, fmt.Errorf("synapse group %q: unknown source population %q", cfg.Name, cfg.Source)
	}
	trg := n.neuronIndex(cfg.Target)
	if trg < 0 {
		return nil, fmt.Errorf("synapse group %q: unknown target population %q", cfg.Name, cfg.Target)
	}
	if cfg.WU == nil || cfg.PS == nil {
		return nil, fmt.Errorf("synapse group %q: weight update and postsynaptic models are required", cfg.Name)
	}
	if len(cfg.WUParams) != len(cfg.WU.Params) {
		return nil, fmt.Errorf("synapse group %q: %d weight update parameter values for %d parameters", cfg.Name, len(cfg.WUParams), len(cfg.WU.Params))
	}
	if len(cfg.PSParams) != len(cfg.PS.Params) {
		return nil, fmt.Errorf("synapse group %q: %d postsynaptic parameter values for %d parameters", cfg.Name, len(cfg.PSParams), len(cfg.PS.Params))
	}
	if len(cfg.WUVarInits) != len(cfg.WU.Vars) {
		return nil, fmt.Errorf("synapse group %q: %d initialisers for %d synapse variables", cfg.Name, len(cfg.WUVarInits), len(cfg.WU.Vars))
	}
	if len(cfg.PSVarInits) != len(cfg.PS.Vars) {
		return nil, fmt.Errorf("synapse group %q: %d initialisers for %d postsynaptic variables", cfg.Name, len(cfg.PSVarInits), len(cfg.PS.Vars))
	}
	if cfg.Connectivity != nil && len(cfg.ConnectivityParams) != len(cfg.Connectivity.Params) {
		return nil, fmt.Errorf("synapse group %q: %d connectivity parameter values for %d parameters", cfg.Name, len(cfg.ConnectivityParams), len(cfg.Connectivity.Params))
	}
	if cfg.Matrix.Sparse() && cfg.Connectivity == nil && cfg.MaxRowLength == 0 {
		return nil, fmt.Errorf("synapse group %q: sparse connectivity needs an initialiser or an explicit max row length", cfg.Name)
	}
	if cfg.DenseWeights != nil {
		if !cfg.Matrix.Dense() {
			return nil, fmt.Errorf("synapse group %q: initial weight matrix only applies to dense connectivity", cfg.Name)
		}
		r, c := cfg.DenseWeights.Dims()
		if uint(r) != n.neurons[src].NumNeurons || uint(c) != n.neurons[trg].NumNeurons {
			return nil, fmt.Errorf("synapse group %q: weight matrix is %dx%d, projection is %dx%d",
				cfg.Name, r, c, n.neurons[src].NumNeurons, n.neurons[trg].NumNeurons)
		}
	}
	slots := cfg.MaxDendriticDelaySlots
	if slots == 0 {
		slots = 1
	}
	g := &SynapseGroup{
		Name:                   cfg.Name,
		Matrix:                 cfg.Matrix,
		Span:                   cfg.Span,
		DelaySteps:             cfg.DelaySteps,
		BackPropDelaySteps:     cfg.BackPropDelaySteps,
		MaxDendriticDelaySlots: slots,
		WUModel:                cfg.WU,
		WUParamValues:          cfg.WUParams,
		WUVarInits:             cfg.WUVarInits,
		WUPreVarInits:          cfg.WUPreVarInits,
		WUPostVarInits:         cfg.WUPostVarInits,
		PSModel:                cfg.PS,
		PSParamValues:          cfg.PSParams,
		PSVarInits:             cfg.PSVarInits,
		Connectivity:           cfg.Connectivity,
		ConnectivityParams:     cfg.ConnectivityParams,
		DenseWeights:           cfg.DenseWeights,
		net:                    n,
		src:                    src,
		trg:                    trg,
		maxRowLength:           cfg.MaxRowLength,
	}
	n.synapses = append(n.synapses, g)
	return g, nil
}

// Finalize derives per-population feature flags from the declared projections
// and freezes the network. All later passes require a finalized network
func (n *Network) Finalize() error {
	if n.finalized {
		return fmt.Errorf("network %q already finalized", n.Name)
	}
	if n.Precision == "" {
		n.Precision = "float"
	}
	if n.TimePrecision == "" {
		n.TimePrecision = n.Precision
	}
	for _, ng := range n.neurons {
		ng.numDelaySlots = 1
		ng.simRNG = usesRNG(ng.Model.SimCode) || usesRNG(ng.Model.ThresholdConditionCode) || usesRNG(ng.Model.ResetCode)
	}
	for i, sg := range n.synapses {
		if sg.Matrix.Dense() || sg.Matrix.Bitmask() {
			sg.maxRowLength = sg.TrgGroup().NumNeurons
		} else if sg.Connectivity != nil && sg.Connectivity.MaxRowLength != nil {
			derived := sg.Connectivity.MaxRowLength(sg.SrcGroup().NumNeurons, sg.TrgGroup().NumNeurons, sg.ConnectivityParams)
			if sg.maxRowLength == 0 || derived < sg.maxRowLength {
				sg.maxRowLength = derived
			}
		}
		if sg.maxRowLength == 0 {
			return fmt.Errorf("synapse group %q: cannot derive max row length", sg.Name)
		}

		src := sg.SrcGroup()
		trg := sg.TrgGroup()
		src.outSyn = append(src.outSyn, i)
		trg.inSyn = append(trg.inSyn, i)

		if sg.DelaySteps > 0 {
			src.delayRequired = true
			if slots := sg.DelaySteps + 1; slots > src.numDelaySlots {
				src.numDelaySlots = slots
			}
		}
		if sg.BackPropDelaySteps > 0 {
			trg.delayRequired = true
			if slots := sg.BackPropDelaySteps + 1; slots > trg.numDelaySlots {
				trg.numDelaySlots = slots
			}
		}
		wu := sg.WUModel
		if wu.EventCode != "" {
			if wu.EventThresholdConditionCode == "" {
				return fmt.Errorf("synapse group %q: event code without event threshold condition", sg.Name)
			}
			src.spikeEvent = true
		}
		if wu.SimCode != "" {
			src.trueSpike = true
		}
		if wu.LearnPostCode != "" {
			trg.trueSpike = true
		}
		if usesSpikeTimes(wu.SimCode) || usesSpikeTimes(wu.EventCode) ||
			usesSpikeTimes(wu.EventThresholdConditionCode) || usesSpikeTimes(wu.LearnPostCode) ||
			usesSpikeTimes(wu.SynapseDynamicsCode) {
			src.spikeTime = true
			trg.spikeTime = true
		}
	}
	n.finalized = true
	return nil
}

// Finalized reports whether the network has been frozen
func (n *Network) Finalized() bool { return n.finalized }

// Neurons returns all populations in declaration order
func (n *Network) Neurons() []*NeuronGroup { return n.neurons }

// Synapses returns all projections in declaration order
func (n *Network) Synapses() []*SynapseGroup { return n.synapses }

// Neuron returns the population at index i
func (n *Network) Neuron(i int) *NeuronGroup { return n.neurons[i] }

// Synapse returns the projection at index i
func (n *Network) Synapse(i int) *SynapseGroup { return n.synapses[i] }

// ScalarSuffix is appended to floating point literals emitted for this
// network's precision
func (n *Network) ScalarSuffix() string {
	if n.Precision == "float" {
		return "f"
	}
	return ""
}

func (n *Network) neuronIndex(name string) int {
	for i, g := range n.neurons {
		if g.Name == name {
			return i
		}
	}
	return -1
}

func (n *Network) neuronNamed(name string) *NeuronGroup {
	if i := n.neuronIndex(name); i >= 0 {
		return n.neurons[i]
	}
	return nil
}

func (n *Network) synapseNamed(name string) *SynapseGroup {
	for _, g := range n.synapses {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func usesRNG(code string) bool {
	return strings.Contains(code, "$(gennrand")
}

func usesSpikeTimes(code string) bool {
	return strings.Contains(code, "$(sT_pre)") || strings.Contains(code, "$(sT_post)")
}
