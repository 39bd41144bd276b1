package codegen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snngen/snngen/model"
)

func lifModel() *model.NeuronModel {
	return &model.NeuronModel{
		Name:                   "LIF",
		Params:                 []string{"Vrest", "Vthresh", "Vreset", "TauM"},
		Vars:                   []model.Var{{Name: "V", Type: "scalar"}},
		SimCode:                "$(V) += (($(Vrest) - $(V)) / $(TauM) + $(Isyn)) * $(dt);",
		ThresholdConditionCode: "$(V) >= $(Vthresh)",
		ResetCode:              "$(V) = $(Vreset);",
	}
}

func deltaCurr() *model.PostsynapticModel {
	return &model.PostsynapticModel{
		Name:           "DeltaCurr",
		ApplyInputCode: "$(Isyn) += $(inSyn);",
		DecayCode:      "$(inSyn) = 0;",
	}
}

func staticPulse() *model.WeightUpdateModel {
	return &model.WeightUpdateModel{
		Name:    "StaticPulse",
		Vars:    []model.Var{{Name: "g", Type: "scalar"}},
		SimCode: "$(addToInSyn, $(g));",
	}
}

// lifNetwork declares one population per threshold value, all sharing the
// LIF model, plus a dense static projection from each population to itself
func lifNetwork(t *testing.T, thresholds ...float64) *model.Network {
	t.Helper()
	net := model.New("test")
	lif := lifModel()
	for i, vth := range thresholds {
		_, err := net.AddNeuronGroup(fmt.Sprintf("Pop%d", i), 100, lif,
			[]float64{-65, vth, -70, 20}, []model.VarInit{{Constant: -65}})
		require.NoError(t, err)
	}
	for i := range thresholds {
		_, err := net.AddSynapseGroup(model.SynapseConfig{
			Name:       fmt.Sprintf("Syn%d", i),
			Source:     fmt.Sprintf("Pop%d", i),
			Target:     fmt.Sprintf("Pop%d", i),
			Matrix:     model.DenseIndividual,
			WU:         staticPulse(),
			WUVarInits: []model.VarInit{{Constant: 0.5}},
			PS:         deltaCurr(),
		})
		require.NoError(t, err)
	}
	return net
}

func finalized(t *testing.T, net *model.Network) *model.Network {
	t.Helper()
	require.NoError(t, net.Finalize())
	return net
}
