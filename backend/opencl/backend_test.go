package opencl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snngen/snngen/codegen"
	"github.com/snngen/snngen/model"
)

func lifNetwork(t *testing.T, span model.SpanType, matrix model.MatrixType) *model.Network {
	t.Helper()
	net := model.New("test")
	lif := &model.NeuronModel{
		Name:                   "LIF",
		Params:                 []string{"Vrest", "Vthresh", "Vreset", "TauM"},
		Vars:                   []model.Var{{Name: "V", Type: "scalar"}},
		SimCode:                "$(V) += (($(Vrest) - $(V)) / $(TauM) + $(Isyn)) * $(dt);",
		ThresholdConditionCode: "$(V) >= $(Vthresh)",
		ResetCode:              "$(V) = $(Vreset);",
	}
	pulse := &model.WeightUpdateModel{
		Name:    "StaticPulse",
		Vars:    []model.Var{{Name: "g", Type: "scalar"}},
		SimCode: "$(addToInSyn, $(g));",
	}
	delta := &model.PostsynapticModel{
		Name:           "DeltaCurr",
		ApplyInputCode: "$(Isyn) += $(inSyn);",
		DecayCode:      "$(inSyn) = 0;",
	}
	for i, vth := range []float64{-50, -40} {
		_, err := net.AddNeuronGroup(fmt.Sprintf("Pop%d", i), 100, lif,
			[]float64{-65, vth, -70, 20}, []model.VarInit{{Constant: -65}})
		require.NoError(t, err)
	}
	for i := range []int{0, 1} {
		_, err := net.AddSynapseGroup(model.SynapseConfig{
			Name:         fmt.Sprintf("Syn%d", i),
			Source:       fmt.Sprintf("Pop%d", i),
			Target:       fmt.Sprintf("Pop%d", i),
			Matrix:       matrix,
			Span:         span,
			MaxRowLength: 20,
			WU:           pulse,
			WUVarInits:   []model.VarInit{{Constant: 0.5}},
			PS:           delta,
		})
		require.NoError(t, err)
	}
	require.NoError(t, net.Finalize())
	return net
}

func TestGenerateKernels(t *testing.T) {
	net := lifNetwork(t, model.PostSpan, model.DenseIndividual)
	artifacts, err := codegen.Generate(net, New(Preferences{}))
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	neuron := string(artifacts[0].Content)
	assert.Contains(t, neuron, "__kernel void updateNeuronsKernel(timepoint t)")
	assert.Contains(t, neuron, "__kernel void preNeuronResetKernel()")
	assert.Contains(t, neuron, "barrier(CLK_LOCAL_MEM_FENCE);")
	assert.Contains(t, neuron, "shSpk[atomic_add(&shSpkCount, 1u)] = lid")

	synapse := string(artifacts[1].Content)
	assert.Contains(t, synapse, "__kernel void updatePresynapticKernel(timepoint t)")
	assert.Contains(t, synapse, "__kernel void updatePostsynapticKernel(timepoint t)")
	assert.Contains(t, synapse, "__kernel void updateSynapseDynamicsKernel(timepoint t)")
	assert.Contains(t, synapse, "__kernel void preSynapseResetKernel()")
	assert.Contains(t, synapse, "atomicAddFloat(&group->inSyn[lid], group->g[synAddress]);")
	assert.Contains(t, synapse, "atomic_cmpxchg", "float accumulation uses the compare-exchange loop")

	init := string(artifacts[2].Content)
	assert.Contains(t, init, "__kernel void initializeKernel()")
	assert.Contains(t, init, "__kernel void initializeSparseKernel()")
}

func TestGenerateGroupPlumbing(t *testing.T) {
	net := lifNetwork(t, model.PostSpan, model.DenseIndividual)
	artifacts, err := codegen.Generate(net, New(Preferences{}))
	require.NoError(t, err)
	neuron := string(artifacts[0].Content)

	// both populations merge, so one struct serves two members
	assert.Contains(t, neuron, "typedef struct")
	assert.Contains(t, neuron, "__global MergedNeuronUpdateGroup0 *d_mergedNeuronUpdateGroup0;")
	assert.Contains(t, neuron, "__kernel void buildMergedNeuronUpdateGroup0Kernel(")
	assert.Contains(t, neuron, "void pushMergedNeuronUpdateGroup0ToDevice()")
	assert.Contains(t, neuron, "__constant unsigned int d_mergedNeuronUpdateGroupStartID0[] = {0, 128};",
		"100 neurons pad to 128 at workgroup size 32")
	assert.Contains(t, neuron, "while (hi - lo > 1)", "member lookup is a binary search")
	assert.Contains(t, neuron, "if(id < 256) {", "one guard covers both padded members")
	assert.Contains(t, neuron, "__global float* V")
}

func TestWorkGroupSizePreference(t *testing.T) {
	var prefs Preferences
	prefs.WorkGroupSizes[codegen.KernelNeuronUpdate] = 64
	b := New(prefs)
	assert.Equal(t, uint(64), b.WorkGroupSize(codegen.KernelNeuronUpdate))
	assert.Equal(t, uint(32), b.WorkGroupSize(codegen.KernelPresynapticUpdate))

	net := lifNetwork(t, model.PostSpan, model.DenseIndividual)
	artifacts, err := codegen.Generate(net, b)
	require.NoError(t, err)
	neuron := string(artifacts[0].Content)
	assert.Contains(t, neuron, "__local unsigned int shSpk[64];")
	assert.Contains(t, neuron, "{0, 128}", "100 neurons pad to 128 at workgroup size 64")
}

func TestPresynapticStrategySelection(t *testing.T) {
	b := New(Preferences{})

	sparse := lifNetwork(t, model.PreSpan, model.SparseIndividual)
	artifacts, err := codegen.Generate(sparse, b)
	require.NoError(t, err)
	synapse := string(artifacts[1].Content)
	assert.Contains(t, synapse, "if (lid < group->srcSpkCnt[0]) {",
		"pre-span parallelises over spikes")
	assert.Contains(t, synapse, "for (unsigned int j = 0; j < group->rowLength[preInd]; j++)")

	dense := lifNetwork(t, model.PreSpan, model.DenseIndividual)
	_, err = codegen.Generate(dense, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, codegen.ErrNoCompatibleStrategy))
	assert.Contains(t, err.Error(), "Syn")
}

// connNetwork wires the self-projections through a procedural row builder
// connecting every source neuron to every target
func connNetwork(t *testing.T, matrix model.MatrixType) *model.Network {
	t.Helper()
	net := model.New("test")
	lif := &model.NeuronModel{
		Name:                   "LIF",
		Params:                 []string{"Vrest", "Vthresh", "Vreset", "TauM"},
		Vars:                   []model.Var{{Name: "V", Type: "scalar"}},
		SimCode:                "$(V) += (($(Vrest) - $(V)) / $(TauM) + $(Isyn)) * $(dt);",
		ThresholdConditionCode: "$(V) >= $(Vthresh)",
		ResetCode:              "$(V) = $(Vreset);",
	}
	pulse := &model.WeightUpdateModel{
		Name:    "StaticPulse",
		Vars:    []model.Var{{Name: "g", Type: "scalar"}},
		SimCode: "$(addToInSyn, $(g));",
	}
	delta := &model.PostsynapticModel{
		Name:           "DeltaCurr",
		ApplyInputCode: "$(Isyn) += $(inSyn);",
		DecayCode:      "$(inSyn) = 0;",
	}
	allToAll := &model.SparseConnectivityInit{
		Name:              "AllToAll",
		RowBuildCode:      "if (j >= $(num_post)) { $(endRow); } $(addSynapse, j); j++;",
		RowBuildStateVars: []model.StateVar{{Name: "j", Type: "unsigned int", Init: "0"}},
		MaxRowLength: func(numPre, numPost uint, params []float64) uint {
			return numPost
		},
	}
	for i, vth := range []float64{-50, -40} {
		_, err := net.AddNeuronGroup(fmt.Sprintf("Pop%d", i), 100, lif,
			[]float64{-65, vth, -70, 20}, []model.VarInit{{Constant: -65}})
		require.NoError(t, err)
	}
	for i := range []int{0, 1} {
		_, err := net.AddSynapseGroup(model.SynapseConfig{
			Name:         fmt.Sprintf("Syn%d", i),
			Source:       fmt.Sprintf("Pop%d", i),
			Target:       fmt.Sprintf("Pop%d", i),
			Matrix:       matrix,
			WU:           pulse,
			WUVarInits:   []model.VarInit{{Constant: 0.5}},
			PS:           delta,
			Connectivity: allToAll,
		})
		require.NoError(t, err)
	}
	require.NoError(t, net.Finalize())
	return net
}

func TestGenerateConnectivityInit(t *testing.T) {
	artifacts, err := codegen.Generate(connNetwork(t, model.SparseIndividual), New(Preferences{}))
	require.NoError(t, err)
	init := string(artifacts[2].Content)

	assert.Contains(t, init, "unsigned int rowIdx = 0;")
	assert.Contains(t, init, "unsigned int j = 0;", "row build state vars become locals")
	assert.Contains(t, init, "while (true) {")
	assert.Contains(t, init, "if (j >= group->numTrgNeurons) { break; }",
		"endRow terminates the row build loop")
	assert.Contains(t, init, "group->ind[(lid * group->rowStride) + (rowIdx++)] = j;")
	assert.Contains(t, init, "group->rowLength[lid] = rowIdx;")

	// the connectivity collection follows neuron init in the flat ID space,
	// so its guard keeps both bounds
	assert.Contains(t, init, "if(id >= 256 && id < 512) {")
	assert.NotContains(t, init, "if(id < 512)")
}

func TestGenerateConnectivityInitBitmask(t *testing.T) {
	artifacts, err := codegen.Generate(connNetwork(t, model.BitmaskGlobal), New(Preferences{}))
	require.NoError(t, err)
	init := string(artifacts[2].Content)

	assert.Contains(t, init, "typedef uint uint32_t;")
	assert.Contains(t, init, "__global uint32_t* gp;")
	assert.Contains(t, init, "atomic_or(&group->gp[((lid * group->numTrgNeurons) + j) / 32]")
	assert.NotContains(t, init, "rowIdx", "bitmask rows carry no ragged length")
}

func TestKernelLaunchSizes(t *testing.T) {
	net := lifNetwork(t, model.PostSpan, model.DenseIndividual)
	artifacts, err := codegen.Generate(net, New(Preferences{}))
	require.NoError(t, err)

	neuron := string(artifacts[0].Content)
	assert.Contains(t, neuron, "const size_t updateNeuronsKernelWorkSize = 256;",
		"two padded members of 128 threads each")
	assert.Contains(t, neuron, "const size_t preNeuronResetKernelWorkSize = 32;",
		"two members round up to one workgroup")

	synapse := string(artifacts[1].Content)
	assert.Contains(t, synapse, "const size_t preSynapseResetKernelWorkSize = 0;")
	assert.Contains(t, synapse, "const size_t updatePresynapticKernelWorkSize = 256;")
	assert.Contains(t, synapse, "const size_t updatePostsynapticKernelWorkSize = 0;")
	assert.Contains(t, synapse, "const size_t updateSynapseDynamicsKernelWorkSize = 0;")

	init := string(artifacts[2].Content)
	assert.Contains(t, init, "const size_t initializeKernelWorkSize = 512;",
		"neuron init plus dense init share one flat ID space")
	assert.Contains(t, init, "const size_t initializeSparseKernelWorkSize = 0;")
}

func TestThreadCounts(t *testing.T) {
	b := New(Preferences{})
	post := lifNetwork(t, model.PostSpan, model.SparseIndividual)
	sg := post.Synapse(0)
	assert.Equal(t, uint(20), b.NumPresynapticUpdateThreads(sg),
		"post-span sizes by the widest row")
	assert.Equal(t, uint(100), b.NumPostsynapticUpdateThreads(sg))
	assert.Equal(t, uint(100*20), b.NumSynapseDynamicsThreads(sg))

	pre := lifNetwork(t, model.PreSpan, model.SparseIndividual)
	assert.Equal(t, uint(100), b.NumPresynapticUpdateThreads(pre.Synapse(0)),
		"pre-span sizes by the source population")

	assert.Equal(t, "d_", b.GenVariablePrefix())
	assert.Equal(t, "atomic_add(&x, v)", b.GenAtomicAdd("x", "v"))
}

func TestGenerateDeterminism(t *testing.T) {
	b := New(Preferences{})
	first, err := codegen.Generate(lifNetwork(t, model.PostSpan, model.SparseIndividual), b)
	require.NoError(t, err)
	second, err := codegen.Generate(lifNetwork(t, model.PostSpan, model.SparseIndividual), b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
