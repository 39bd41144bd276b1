package model

// NeuronModel defines the equations shared by every population that
// instantiates it. Code fields hold equation snippets in the substitution
// language; parameter names are bound to per-population numeric values
type NeuronModel struct {
	Name                   string
	Params                 []string
	Vars                   []Var
	SimCode                string
	ThresholdConditionCode string
	ResetCode              string
	SupportCode            string
	AutoRefractory         bool
}

// CanBeMerged reports whether two populations using these models may share
// generated code. Everything that shapes the emitted code participates;
// numeric parameter values deliberately do not
func (m *NeuronModel) CanBeMerged(o *NeuronModel) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return stringsEqual(m.Params, o.Params) &&
		VarsEqual(m.Vars, o.Vars) &&
		m.SimCode == o.SimCode &&
		m.ThresholdConditionCode == o.ThresholdConditionCode &&
		m.ResetCode == o.ResetCode &&
		m.SupportCode == o.SupportCode &&
		m.AutoRefractory == o.AutoRefractory
}

// PostsynapticModel converts accumulated synaptic input into current and
// decays it between timesteps
type PostsynapticModel struct {
	Name           string
	Params         []string
	Vars           []Var
	DecayCode      string
	ApplyInputCode string
	SupportCode    string
}

func (m *PostsynapticModel) CanBeMerged(o *PostsynapticModel) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return stringsEqual(m.Params, o.Params) &&
		VarsEqual(m.Vars, o.Vars) &&
		m.DecayCode == o.DecayCode &&
		m.ApplyInputCode == o.ApplyInputCode &&
		m.SupportCode == o.SupportCode
}

// WeightUpdateModel defines per-synapse behaviour: what happens on a
// presynaptic spike (SimCode), on a spike-like event (EventCode), on a
// postsynaptic spike (LearnPostCode) and every timestep (SynapseDynamicsCode)
type WeightUpdateModel struct {
	Name                        string
	Params                      []string
	Vars                        []Var
	PreVars                     []Var
	PostVars                    []Var
	SimCode                     string
	EventCode                   string
	EventThresholdConditionCode string
	LearnPostCode               string
	SynapseDynamicsCode         string
	SupportCode                 string
}

func (m *WeightUpdateModel) CanBeMerged(o *WeightUpdateModel) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return stringsEqual(m.Params, o.Params) &&
		VarsEqual(m.Vars, o.Vars) &&
		VarsEqual(m.PreVars, o.PreVars) &&
		VarsEqual(m.PostVars, o.PostVars) &&
		m.SimCode == o.SimCode &&
		m.EventCode == o.EventCode &&
		m.EventThresholdConditionCode == o.EventThresholdConditionCode &&
		m.LearnPostCode == o.LearnPostCode &&
		m.SynapseDynamicsCode == o.SynapseDynamicsCode &&
		m.SupportCode == o.SupportCode
}

// SparseConnectivityInit is a procedural connectivity builder. RowBuildCode
// runs once per presynaptic row and calls $(addSynapse, j) for every target;
// $(endRow) terminates the row. MaxRowLength bounds the per-row fan-out and
// sizes the generated ragged matrix
type SparseConnectivityInit struct {
	Name              string
	Params            []string
	RowBuildCode      string
	RowBuildStateVars []StateVar
	MaxRowLength      func(numPre, numPost uint, params []float64) uint
}

// StateVar is a named, typed accumulator initialised before a row build loop
type StateVar struct {
	Name string
	Type string
	Init string
}

func (s *SparseConnectivityInit) CanBeMerged(o *SparseConnectivityInit) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	if !stringsEqual(s.Params, o.Params) || s.RowBuildCode != o.RowBuildCode {
		return false
	}
	if len(s.RowBuildStateVars) != len(o.RowBuildStateVars) {
		return false
	}
	for i := range s.RowBuildStateVars {
		if s.RowBuildStateVars[i] != o.RowBuildStateVars[i] {
			return false
		}
	}
	return true
}
