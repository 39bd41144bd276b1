package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testLIF() *NeuronModel {
	return &NeuronModel{
		Name:                   "LIF",
		Params:                 []string{"Vrest", "Vthresh", "Vreset", "TauM"},
		Vars:                   []Var{{Name: "V", Type: "scalar"}},
		SimCode:                "$(V) += (($(Vrest) - $(V)) / $(TauM) + $(Isyn)) * $(dt);",
		ThresholdConditionCode: "$(V) >= $(Vthresh)",
		ResetCode:              "$(V) = $(Vreset);",
	}
}

func testStaticPulse() *WeightUpdateModel {
	return &WeightUpdateModel{
		Name:    "StaticPulse",
		Vars:    []Var{{Name: "g", Type: "scalar"}},
		SimCode: "$(addToInSyn, $(g));",
	}
}

func testDeltaCurr() *PostsynapticModel {
	return &PostsynapticModel{
		Name:           "DeltaCurr",
		ApplyInputCode: "$(Isyn) += $(inSyn);",
		DecayCode:      "$(inSyn) = 0;",
	}
}

func twoPopNet(t *testing.T) *Network {
	t.Helper()
	net := New("test")
	for _, name := range []string{"Pre", "Post"} {
		_, err := net.AddNeuronGroup(name, 10, testLIF(),
			[]float64{-65, -50, -70, 20}, []VarInit{{Constant: -65}})
		require.NoError(t, err)
	}
	return net
}

func TestAddNeuronGroupValidation(t *testing.T) {
	lif := testLIF()
	params := []float64{-65, -50, -70, 20}
	inits := []VarInit{{Constant: -65}}

	tests := []struct {
		description string
		add         func(n *Network) error
		expectErr   string
	}{
		{
			description: "empty name",
			add: func(n *Network) error {
				_, err := n.AddNeuronGroup("", 10, lif, params, inits)
				return err
			},
			expectErr: "needs a name",
		},
		{
			description: "duplicate name",
			add: func(n *Network) error {
				if _, err := n.AddNeuronGroup("Pop", 10, lif, params, inits); err != nil {
					return err
				}
				_, err := n.AddNeuronGroup("Pop", 10, lif, params, inits)
				return err
			},
			expectErr: "duplicate neuron group",
		},
		{
			description: "empty population",
			add: func(n *Network) error {
				_, err := n.AddNeuronGroup("Pop", 0, lif, params, inits)
				return err
			},
			expectErr: "is empty",
		},
		{
			description: "missing model",
			add: func(n *Network) error {
				_, err := n.AddNeuronGroup("Pop", 10, nil, params, inits)
				return err
			},
			expectErr: "has no model",
		},
		{
			description: "parameter count mismatch",
			add: func(n *Network) error {
				_, err := n.AddNeuronGroup("Pop", 10, lif, []float64{-65}, inits)
				return err
			},
			expectErr: "1 parameter values for 4 parameters",
		},
		{
			description: "initialiser count mismatch",
			add: func(n *Network) error {
				_, err := n.AddNeuronGroup("Pop", 10, lif, params, nil)
				return err
			},
			expectErr: "0 initialisers for 1 variables",
		},
		{
			description: "add after finalize",
			add: func(n *Network) error {
				if _, err := n.AddNeuronGroup("Pop", 10, lif, params, inits); err != nil {
					return err
				}
				if err := n.Finalize(); err != nil {
					return err
				}
				_, err := n.AddNeuronGroup("Other", 10, lif, params, inits)
				return err
			},
			expectErr: "is finalized",
		},
	}
	for _, tc := range tests {
		err := tc.add(New("test"))
		require.Error(t, err, tc.description)
		assert.Contains(t, err.Error(), tc.expectErr, tc.description)
	}
}

func TestAddSynapseGroupValidation(t *testing.T) {
	base := func() SynapseConfig {
		return SynapseConfig{
			Name:       "Syn",
			Source:     "Pre",
			Target:     "Post",
			Matrix:     DenseIndividual,
			WU:         testStaticPulse(),
			WUVarInits: []VarInit{{Constant: 0.5}},
			PS:         testDeltaCurr(),
		}
	}
	tests := []struct {
		description string
		mutate      func(*SynapseConfig)
		expectErr   string
	}{
		{
			description: "unknown source",
			mutate:      func(c *SynapseConfig) { c.Source = "Nowhere" },
			expectErr:   "unknown source population",
		},
		{
			description: "unknown target",
			mutate:      func(c *SynapseConfig) { c.Target = "Nowhere" },
			expectErr:   "unknown target population",
		},
		{
			description: "missing weight update model",
			mutate:      func(c *SynapseConfig) { c.WU = nil },
			expectErr:   "weight update and postsynaptic models are required",
		},
		{
			description: "missing postsynaptic model",
			mutate:      func(c *SynapseConfig) { c.PS = nil },
			expectErr:   "weight update and postsynaptic models are required",
		},
		{
			description: "individual weights without initialisers",
			mutate:      func(c *SynapseConfig) { c.WUVarInits = nil },
			expectErr:   "0 initialisers for 1 synapse variables",
		},
		{
			description: "sparse with neither initialiser nor max row length",
			mutate: func(c *SynapseConfig) {
				c.Matrix = SparseIndividual
			},
			expectErr: "sparse connectivity needs an initialiser or an explicit max row length",
		},
		{
			description: "weight matrix on sparse connectivity",
			mutate: func(c *SynapseConfig) {
				c.Matrix = SparseIndividual
				c.MaxRowLength = 5
				c.DenseWeights = mat.NewDense(10, 10, nil)
			},
			expectErr: "only applies to dense connectivity",
		},
		{
			description: "weight matrix dimension mismatch",
			mutate: func(c *SynapseConfig) {
				c.DenseWeights = mat.NewDense(3, 3, nil)
			},
			expectErr: "weight matrix is 3x3, projection is 10x10",
		},
	}
	for _, tc := range tests {
		net := twoPopNet(t)
		cfg := base()
		tc.mutate(&cfg)
		_, err := net.AddSynapseGroup(cfg)
		require.Error(t, err, tc.description)
		assert.Contains(t, err.Error(), tc.expectErr, tc.description)
	}

	// global weights need no initialisers
	net := twoPopNet(t)
	cfg := base()
	cfg.Matrix = DenseGlobal
	cfg.WUVarInits = nil
	_, err := net.AddSynapseGroup(cfg)
	assert.Error(t, err, "global weights still need a constant per variable")
	cfg.WUVarInits = []VarInit{{Constant: 0.5}}
	_, err = net.AddSynapseGroup(cfg)
	assert.NoError(t, err)
}

func TestFinalizeDelayFlags(t *testing.T) {
	net := twoPopNet(t)
	_, err := net.AddSynapseGroup(SynapseConfig{
		Name:               "Syn",
		Source:             "Pre",
		Target:             "Post",
		Matrix:             DenseIndividual,
		DelaySteps:         5,
		BackPropDelaySteps: 2,
		WU:                 testStaticPulse(),
		WUVarInits:         []VarInit{{Constant: 0.5}},
		PS:                 testDeltaCurr(),
	})
	require.NoError(t, err)
	require.NoError(t, net.Finalize())

	pre, post := net.Neuron(0), net.Neuron(1)
	assert.True(t, pre.DelayRequired())
	assert.Equal(t, uint(6), pre.NumDelaySlots())
	assert.True(t, post.DelayRequired())
	assert.Equal(t, uint(3), post.NumDelaySlots())
	assert.True(t, pre.TrueSpikeRequired(), "sim code reads source spikes")
	assert.False(t, post.TrueSpikeRequired())
	assert.Equal(t, []int{0}, pre.OutSyn())
	assert.Equal(t, []int{0}, post.InSyn())
}

func TestFinalizeSpikeEventAndLearning(t *testing.T) {
	net := twoPopNet(t)
	_, err := net.AddSynapseGroup(SynapseConfig{
		Name:   "Syn",
		Source: "Pre",
		Target: "Post",
		Matrix: DenseIndividual,
		WU: &WeightUpdateModel{
			Name:                        "GradedSTDP",
			Vars:                        []Var{{Name: "g", Type: "scalar"}},
			EventCode:                   "$(addToInSyn, $(g) * $(V_pre));",
			EventThresholdConditionCode: "$(V_pre) > -50",
			LearnPostCode:               "$(g) += ($(sT_post) - $(sT_pre)) * 0.001;",
		},
		WUVarInits: []VarInit{{Constant: 0.5}},
		PS:         testDeltaCurr(),
	})
	require.NoError(t, err)
	require.NoError(t, net.Finalize())

	pre, post := net.Neuron(0), net.Neuron(1)
	assert.True(t, pre.SpikeEventRequired())
	assert.False(t, post.SpikeEventRequired())
	assert.False(t, pre.TrueSpikeRequired(), "no sim code on this projection")
	assert.True(t, post.TrueSpikeRequired(), "postsynaptic learning replays target spikes")
	assert.True(t, pre.SpikeTimeRequired())
	assert.True(t, post.SpikeTimeRequired())
}

func TestFinalizeEventCodeNeedsThreshold(t *testing.T) {
	net := twoPopNet(t)
	_, err := net.AddSynapseGroup(SynapseConfig{
		Name:   "Syn",
		Source: "Pre",
		Target: "Post",
		Matrix: DenseGlobal,
		WU: &WeightUpdateModel{
			Name:      "Graded",
			EventCode: "$(addToInSyn, 0.1);",
		},
		PS: testDeltaCurr(),
	})
	require.NoError(t, err)
	err = net.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event code without event threshold condition")
}

func TestFinalizeSimRNG(t *testing.T) {
	net := New("test")
	noisy := testLIF()
	noisy.SimCode = "$(V) += $(gennrand_normal) * 0.5;"
	_, err := net.AddNeuronGroup("Noisy", 10, noisy,
		[]float64{-65, -50, -70, 20}, []VarInit{{Constant: -65}})
	require.NoError(t, err)
	_, err = net.AddNeuronGroup("Quiet", 10, testLIF(),
		[]float64{-65, -50, -70, 20}, []VarInit{{Constant: -65}})
	require.NoError(t, err)
	require.NoError(t, net.Finalize())

	assert.True(t, net.Neuron(0).SimRNGRequired())
	assert.False(t, net.Neuron(1).SimRNGRequired())
}

func TestFinalizeMaxRowLength(t *testing.T) {
	fixedProb := &SparseConnectivityInit{
		Name:         "FixedProbability",
		Params:       []string{"prob"},
		RowBuildCode: "$(addSynapse, $(id_post));",
		MaxRowLength: func(numPre, numPost uint, params []float64) uint {
			return uint(float64(numPost) * params[0] * 2)
		},
	}
	tests := []struct {
		description string
		cfg         func() SynapseConfig
		expect      uint
	}{
		{
			description: "dense covers the whole target population",
			cfg: func() SynapseConfig {
				return SynapseConfig{Matrix: DenseIndividual,
					WUVarInits: []VarInit{{Constant: 0.5}}}
			},
			expect: 10,
		},
		{
			description: "bitmask covers the whole target population",
			cfg:         func() SynapseConfig { return SynapseConfig{Matrix: BitmaskGlobal} },
			expect:      10,
		},
		{
			description: "derived from the connectivity initialiser",
			cfg: func() SynapseConfig {
				return SynapseConfig{Matrix: SparseGlobal,
					Connectivity: fixedProb, ConnectivityParams: []float64{0.25}}
			},
			expect: 5,
		},
		{
			description: "explicit bound tightens the derived one",
			cfg: func() SynapseConfig {
				return SynapseConfig{Matrix: SparseGlobal, MaxRowLength: 3,
					Connectivity: fixedProb, ConnectivityParams: []float64{0.25}}
			},
			expect: 3,
		},
		{
			description: "explicit bound alone",
			cfg: func() SynapseConfig {
				return SynapseConfig{Matrix: SparseGlobal, MaxRowLength: 7}
			},
			expect: 7,
		},
	}
	for _, tc := range tests {
		net := twoPopNet(t)
		cfg := tc.cfg()
		cfg.Name = "Syn"
		cfg.Source = "Pre"
		cfg.Target = "Post"
		cfg.WU = testStaticPulse()
		if cfg.Matrix.Individual() && cfg.WUVarInits == nil {
			cfg.WUVarInits = []VarInit{{Constant: 0.5}}
		}
		cfg.PS = testDeltaCurr()
		sg, err := net.AddSynapseGroup(cfg)
		require.NoError(t, err, tc.description)
		require.NoError(t, net.Finalize(), tc.description)
		assert.Equal(t, tc.expect, sg.MaxRowLength(), tc.description)
	}
}

func TestScalarSuffix(t *testing.T) {
	net := New("test")
	assert.Equal(t, "f", net.ScalarSuffix())
	net.Precision = "double"
	assert.Equal(t, "", net.ScalarSuffix())
}

func TestSynapseGroupDerivedAccessors(t *testing.T) {
	net := twoPopNet(t)
	sg, err := net.AddSynapseGroup(SynapseConfig{
		Name:                   "Syn",
		Source:                 "Pre",
		Target:                 "Post",
		Matrix:                 DenseIndividual,
		MaxDendriticDelaySlots: 8,
		WU:                     testStaticPulse(),
		WUVarInits:             []VarInit{{Constant: 0.5}},
		PS:                     testDeltaCurr(),
	})
	require.NoError(t, err)
	require.NoError(t, net.Finalize())

	assert.Equal(t, 0, sg.Src())
	assert.Equal(t, 1, sg.Trg())
	assert.Equal(t, "Pre", sg.SrcGroup().Name)
	assert.Equal(t, "Post", sg.TrgGroup().Name)
	assert.True(t, sg.DendriticDelayRequired())
	assert.True(t, sg.WUVarInitRequired())
}
