package model

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

type varSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Access string `yaml:"access,omitempty"`
}

type varInitSpec struct {
	Constant float64 `yaml:"constant,omitempty"`
	Code     string  `yaml:"code,omitempty"`
}

type neuronModelSpec struct {
	Name                   string    `yaml:"name"`
	Params                 []string  `yaml:"params,omitempty"`
	Vars                   []varSpec `yaml:"vars,omitempty"`
	SimCode                string    `yaml:"simCode,omitempty"`
	ThresholdConditionCode string    `yaml:"thresholdConditionCode,omitempty"`
	ResetCode              string    `yaml:"resetCode,omitempty"`
	SupportCode            string    `yaml:"supportCode,omitempty"`
	AutoRefractory         bool      `yaml:"autoRefractory,omitempty"`
}

type postsynapticModelSpec struct {
	Name           string    `yaml:"name"`
	Params         []string  `yaml:"params,omitempty"`
	Vars           []varSpec `yaml:"vars,omitempty"`
	DecayCode      string    `yaml:"decayCode,omitempty"`
	ApplyInputCode string    `yaml:"applyInputCode,omitempty"`
	SupportCode    string    `yaml:"supportCode,omitempty"`
}

type weightUpdateModelSpec struct {
	Name                        string    `yaml:"name"`
	Params                      []string  `yaml:"params,omitempty"`
	Vars                        []varSpec `yaml:"vars,omitempty"`
	PreVars                     []varSpec `yaml:"preVars,omitempty"`
	PostVars                    []varSpec `yaml:"postVars,omitempty"`
	SimCode                     string    `yaml:"simCode,omitempty"`
	EventCode                   string    `yaml:"eventCode,omitempty"`
	EventThresholdConditionCode string    `yaml:"eventThresholdConditionCode,omitempty"`
	LearnPostCode               string    `yaml:"learnPostCode,omitempty"`
	SynapseDynamicsCode         string    `yaml:"synapseDynamicsCode,omitempty"`
	SupportCode                 string    `yaml:"supportCode,omitempty"`
}

type connectivitySpec struct {
	Name              string    `yaml:"name"`
	Params            []string  `yaml:"params,omitempty"`
	RowBuildCode      string    `yaml:"rowBuildCode"`
	RowBuildStateVars []varSpec `yaml:"rowBuildStateVars,omitempty"`
	MaxRowLength      uint      `yaml:"maxRowLength"`
}

type populationSpec struct {
	Name     string        `yaml:"name"`
	Size     uint          `yaml:"size"`
	Model    string        `yaml:"model"`
	Params   []float64     `yaml:"params,omitempty"`
	VarInits []varInitSpec `yaml:"varInits,omitempty"`
}

type projectionEndSpec struct {
	Model    string        `yaml:"model"`
	Params   []float64     `yaml:"params,omitempty"`
	VarInits []varInitSpec `yaml:"varInits,omitempty"`
}

type projectionConnectivitySpec struct {
	Initialiser  string    `yaml:"initialiser,omitempty"`
	Params       []float64 `yaml:"params,omitempty"`
	MaxRowLength uint      `yaml:"maxRowLength,omitempty"`
}

type projectionSpec struct {
	Name                   string                      `yaml:"name"`
	Source                 string                      `yaml:"source"`
	Target                 string                      `yaml:"target"`
	Matrix                 string                      `yaml:"matrix"`
	Span                   string                      `yaml:"span,omitempty"`
	DelaySteps             uint                        `yaml:"delaySteps,omitempty"`
	BackPropDelaySteps     uint                        `yaml:"backPropDelaySteps,omitempty"`
	MaxDendriticDelaySlots uint                        `yaml:"maxDendriticDelaySlots,omitempty"`
	WeightUpdate           projectionEndSpec           `yaml:"weightUpdate"`
	Postsynaptic           projectionEndSpec           `yaml:"postsynaptic"`
	Connectivity           *projectionConnectivitySpec `yaml:"connectivity,omitempty"`
}

type networkSpec struct {
	Name              string                  `yaml:"name"`
	DT                float64                 `yaml:"dt,omitempty"`
	Precision         string                  `yaml:"precision,omitempty"`
	TimePrecision     string                  `yaml:"timePrecision,omitempty"`
	NeuronModels      []neuronModelSpec       `yaml:"neuronModels,omitempty"`
	PostsynapticModel []postsynapticModelSpec `yaml:"postsynapticModels,omitempty"`
	WeightUpdate      []weightUpdateModelSpec `yaml:"weightUpdateModels,omitempty"`
	Connectivity      []connectivitySpec      `yaml:"connectivityInitialisers,omitempty"`
	Populations       []populationSpec        `yaml:"populations,omitempty"`
	Projections       []projectionSpec        `yaml:"projections,omitempty"`
}

// Parse builds a finalized network from a YAML description
func Parse(data []byte) (*Network, error) {
	var spec networkSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse network description: %w", err)
	}
	return spec.build()
}

// Load reads a YAML network description from an afs-resolvable URL
func Load(ctx context.Context, URL string) (*Network, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read network description %v: %w", URL, err)
	}
	return Parse(data)
}

func (s *networkSpec) build() (*Network, error) {
	net := New(s.Name)
	if s.DT > 0 {
		net.DT = s.DT
	}
	if s.Precision != "" {
		net.Precision = s.Precision
	}
	net.TimePrecision = s.TimePrecision

	neuronModels := map[string]*NeuronModel{}
	for _, m := range s.NeuronModels {
		if _, ok := neuronModels[m.Name]; ok {
			return nil, fmt.Errorf("duplicate neuron model %q", m.Name)
		}
		neuronModels[m.Name] = &NeuronModel{
			Name:                   m.Name,
			Params:                 m.Params,
			Vars:                   buildVars(m.Vars),
			SimCode:                m.SimCode,
			ThresholdConditionCode: m.ThresholdConditionCode,
			ResetCode:              m.ResetCode,
			SupportCode:            m.SupportCode,
			AutoRefractory:         m.AutoRefractory,
		}
	}
	psModels := map[string]*PostsynapticModel{}
	for _, m := range s.PostsynapticModel {
		if _, ok := psModels[m.Name]; ok {
			return nil, fmt.Errorf("duplicate postsynaptic model %q", m.Name)
		}
		psModels[m.Name] = &PostsynapticModel{
			Name:           m.Name,
			Params:         m.Params,
			Vars:           buildVars(m.Vars),
			DecayCode:      m.DecayCode,
			ApplyInputCode: m.ApplyInputCode,
			SupportCode:    m.SupportCode,
		}
	}
	wuModels := map[string]*WeightUpdateModel{}
	for _, m := range s.WeightUpdate {
		if _, ok := wuModels[m.Name]; ok {
			return nil, fmt.Errorf("duplicate weight update model %q", m.Name)
		}
		wuModels[m.Name] = &WeightUpdateModel{
			Name:                        m.Name,
			Params:                      m.Params,
			Vars:                        buildVars(m.Vars),
			PreVars:                     buildVars(m.PreVars),
			PostVars:                    buildVars(m.PostVars),
			SimCode:                     m.SimCode,
			EventCode:                   m.EventCode,
			EventThresholdConditionCode: m.EventThresholdConditionCode,
			LearnPostCode:               m.LearnPostCode,
			SynapseDynamicsCode:         m.SynapseDynamicsCode,
			SupportCode:                 m.SupportCode,
		}
	}
	connInits := map[string]*SparseConnectivityInit{}
	for _, c := range s.Connectivity {
		if _, ok := connInits[c.Name]; ok {
			return nil, fmt.Errorf("duplicate connectivity initialiser %q", c.Name)
		}
		maxRow := c.MaxRowLength
		connInits[c.Name] = &SparseConnectivityInit{
			Name:              c.Name,
			Params:            c.Params,
			RowBuildCode:      c.RowBuildCode,
			RowBuildStateVars: buildStateVars(c.RowBuildStateVars),
			MaxRowLength: func(numPre, numPost uint, params []float64) uint {
				if maxRow > 0 {
					return maxRow
				}
				return numPost
			},
		}
	}

	for _, p := range s.Populations {
		m, ok := neuronModels[p.Model]
		if !ok {
			return nil, fmt.Errorf("population %q: unknown neuron model %q", p.Name, p.Model)
		}
		if _, err := net.AddNeuronGroup(p.Name, p.Size, m, p.Params, buildVarInits(p.VarInits)); err != nil {
			return nil, err
		}
	}
	for _, p := range s.Projections {
		wu, ok := wuModels[p.WeightUpdate.Model]
		if !ok {
			return nil, fmt.Errorf("projection %q: unknown weight update model %q", p.Name, p.WeightUpdate.Model)
		}
		ps, ok := psModels[p.Postsynaptic.Model]
		if !ok {
			return nil, fmt.Errorf("projection %q: unknown postsynaptic model %q", p.Name, p.Postsynaptic.Model)
		}
		matrix, err := parseMatrixType(p.Matrix)
		if err != nil {
			return nil, fmt.Errorf("projection %q: %w", p.Name, err)
		}
		span, err := parseSpanType(p.Span)
		if err != nil {
			return nil, fmt.Errorf("projection %q: %w", p.Name, err)
		}
		cfg := SynapseConfig{
			Name:                   p.Name,
			Source:                 p.Source,
			Target:                 p.Target,
			Matrix:                 matrix,
			Span:                   span,
			DelaySteps:             p.DelaySteps,
			BackPropDelaySteps:     p.BackPropDelaySteps,
			MaxDendriticDelaySlots: p.MaxDendriticDelaySlots,
			WU:                     wu,
			WUParams:               p.WeightUpdate.Params,
			WUVarInits:             buildVarInits(p.WeightUpdate.VarInits),
			PS:                     ps,
			PSParams:               p.Postsynaptic.Params,
			PSVarInits:             buildVarInits(p.Postsynaptic.VarInits),
		}
		if p.Connectivity != nil {
			cfg.MaxRowLength = p.Connectivity.MaxRowLength
			if p.Connectivity.Initialiser != "" {
				init, ok := connInits[p.Connectivity.Initialiser]
				if !ok {
					return nil, fmt.Errorf("projection %q: unknown connectivity initialiser %q", p.Name, p.Connectivity.Initialiser)
				}
				cfg.Connectivity = init
				cfg.ConnectivityParams = p.Connectivity.Params
			}
		}
		if _, err := net.AddSynapseGroup(cfg); err != nil {
			return nil, err
		}
	}
	if err := net.Finalize(); err != nil {
		return nil, err
	}
	return net, nil
}

func buildVars(specs []varSpec) []Var {
	if len(specs) == 0 {
		return nil
	}
	vars := make([]Var, len(specs))
	for i, v := range specs {
		access := ReadWrite
		if v.Access == "readOnly" {
			access = ReadOnly
		}
		vars[i] = Var{Name: v.Name, Type: v.Type, Access: access}
	}
	return vars
}

func buildStateVars(specs []varSpec) []StateVar {
	if len(specs) == 0 {
		return nil
	}
	vars := make([]StateVar, len(specs))
	for i, v := range specs {
		vars[i] = StateVar{Name: v.Name, Type: v.Type}
	}
	return vars
}

func buildVarInits(specs []varInitSpec) []VarInit {
	if len(specs) == 0 {
		return nil
	}
	inits := make([]VarInit, len(specs))
	for i, v := range specs {
		inits[i] = VarInit{Constant: v.Constant, Code: v.Code}
	}
	return inits
}

func parseMatrixType(s string) (MatrixType, error) {
	switch s {
	case "dense-individual", "":
		return DenseIndividual, nil
	case "dense-global":
		return DenseGlobal, nil
	case "sparse-individual":
		return SparseIndividual, nil
	case "sparse-global":
		return SparseGlobal, nil
	case "bitmask-global":
		return BitmaskGlobal, nil
	}
	return 0, fmt.Errorf("unknown matrix type %q", s)
}

func parseSpanType(s string) (SpanType, error) {
	switch s {
	case "postsynaptic", "":
		return PostSpan, nil
	case "presynaptic":
		return PreSpan, nil
	}
	return 0, fmt.Errorf("unknown span type %q", s)
}
