package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/snngen/snngen/model"
)

// Field is one member of a merged group's generated struct. Type uses the
// logical type names "scalar" and "timepoint" which backends resolve to the
// network precision; Value renders the field's initial value for a given
// member position during the struct-populate phase
type Field struct {
	Type  string
	Name  string
	Value func(member int) string
}

// NeuronGroupMerged is an ordered set of neuron populations that share one
// generated struct layout and kernel body for one role. Members are held as
// indices into the externally owned network store; the first member is the
// archetype whose model defines the shared code
type NeuronGroupMerged struct {
	index  int
	role   Role
	refs   []int
	net    *model.Network
	prefix string
}

// Index is the group's position among merged groups of the same role
func (g *NeuronGroupMerged) Index() int { return g.index }

// Role is the computation phase this group was merged for
func (g *NeuronGroupMerged) Role() Role { return g.role }

// Size is the number of member populations
func (g *NeuronGroupMerged) Size() int { return len(g.refs) }

// Refs returns the member indices into the network store
func (g *NeuronGroupMerged) Refs() []int { return g.refs }

// Archetype returns the representative member used to generate shared code
func (g *NeuronGroupMerged) Archetype() *model.NeuronGroup { return g.net.Neuron(g.refs[0]) }

// Member returns the population at position i within the group
func (g *NeuronGroupMerged) Member(i int) *model.NeuronGroup { return g.net.Neuron(g.refs[i]) }

// Name is the generated struct type name
func (g *NeuronGroupMerged) Name() string {
	return fmt.Sprintf("Merged%sGroup%d", g.role.Prefix(), g.index)
}

// ParamHeterogeneous reports whether parameter p takes different values
// across members; such parameters become struct fields instead of inlined
// literals
func (g *NeuronGroupMerged) ParamHeterogeneous(p int) bool {
	first := g.Archetype().ParamValues[p]
	for _, ref := range g.refs[1:] {
		if g.net.Neuron(ref).ParamValues[p] != first {
			return true
		}
	}
	return false
}

// PSParamHeterogeneous reports heterogeneity of postsynaptic model parameter
// p of the in-projection at position insyn
func (g *NeuronGroupMerged) PSParamHeterogeneous(insyn, p int) bool {
	first := g.net.Synapse(g.Archetype().InSyn()[insyn]).PSParamValues[p]
	for _, ref := range g.refs[1:] {
		if g.net.Synapse(g.net.Neuron(ref).InSyn()[insyn]).PSParamValues[p] != first {
			return true
		}
	}
	return false
}

// InSynAt returns the in-projection of member m at insyn position i. Merged
// members have structurally identical in-projection lists, so positions line
// up across members
func (g *NeuronGroupMerged) InSynAt(m, i int) *model.SynapseGroup {
	return g.net.Synapse(g.Member(m).InSyn()[i])
}

// Fields returns the struct layout for this group's role
func (g *NeuronGroupMerged) Fields() []Field {
	arch := g.Archetype()
	fields := []Field{
		{Type: "unsigned int", Name: "numNeurons", Value: func(m int) string {
			return strconv.FormatUint(uint64(g.Member(m).NumNeurons), 10)
		}},
	}
	switch g.role {
	case RoleNeuronSpikeQueueUpdate:
		fields = fields[:0]
		if arch.DelayRequired() {
			fields = append(fields, g.pointerField("unsigned int", "spkQuePtr", "spkQuePtr"))
		}
		fields = append(fields, g.pointerField("unsigned int", "spkCnt", "glbSpkCnt"))
		if arch.SpikeEventRequired() {
			fields = append(fields, g.pointerField("unsigned int", "spkCntEvnt", "glbSpkCntEvnt"))
		}
		return fields

	case RoleNeuronUpdate, RoleNeuronInit:
		fields = append(fields, g.pointerField("unsigned int", "spkCnt", "glbSpkCnt"))
		fields = append(fields, g.pointerField("unsigned int", "spk", "glbSpk"))
		if arch.SpikeEventRequired() {
			fields = append(fields, g.pointerField("unsigned int", "spkCntEvnt", "glbSpkCntEvnt"))
			fields = append(fields, g.pointerField("unsigned int", "spkEvnt", "glbSpkEvnt"))
		}
		if arch.DelayRequired() {
			fields = append(fields, g.pointerField("unsigned int", "spkQuePtr", "spkQuePtr"))
		}
		if arch.SpikeTimeRequired() {
			fields = append(fields, g.pointerField("timepoint", "sT", "sT"))
		}
		if arch.SimRNGRequired() {
			fields = append(fields, g.pointerField("rngState", "rng", "rng"))
		}
		for _, v := range arch.Model.Vars {
			fields = append(fields, g.pointerField(v.Type, v.Name, v.Name))
		}
		for i := range arch.InSyn() {
			insyn := i
			sg := g.InSynAt(0, insyn)
			fields = append(fields, Field{Type: "scalar*", Name: fmt.Sprintf("inSynInSyn%d", insyn), Value: func(m int) string {
				return g.prefix + "inSyn" + g.InSynAt(m, insyn).Name
			}})
			if sg.DendriticDelayRequired() {
				fields = append(fields, Field{Type: "scalar*", Name: fmt.Sprintf("denDelayInSyn%d", insyn), Value: func(m int) string {
					return g.prefix + "denDelay" + g.InSynAt(m, insyn).Name
				}})
				fields = append(fields, Field{Type: "unsigned int*", Name: fmt.Sprintf("denDelayPtrInSyn%d", insyn), Value: func(m int) string {
					return g.prefix + "denDelayPtr" + g.InSynAt(m, insyn).Name
				}})
			}
			if sg.Matrix.Individual() {
				for _, v := range sg.PSModel.Vars {
					name := v.Name
					fields = append(fields, Field{Type: v.Type + "*", Name: fmt.Sprintf("%sInSyn%d", name, insyn), Value: func(m int) string {
						return g.prefix + name + g.InSynAt(m, insyn).Name
					}})
				}
			}
			for p, pname := range sg.PSModel.Params {
				if g.PSParamHeterogeneous(insyn, p) {
					pi := p
					fields = append(fields, Field{Type: "scalar", Name: fmt.Sprintf("%sInSyn%d", pname, insyn), Value: func(m int) string {
						return formatScalar(g.InSynAt(m, insyn).PSParamValues[pi])
					}})
				}
			}
		}
		for p, pname := range arch.Model.Params {
			if g.ParamHeterogeneous(p) {
				pi := p
				fields = append(fields, Field{Type: "scalar", Name: pname, Value: func(m int) string {
					return formatScalar(g.Member(m).ParamValues[pi])
				}})
			}
		}
		if g.role == RoleNeuronInit {
			for v, mv := range arch.Model.Vars {
				if g.VarInitConstantHeterogeneous(v) {
					vi := v
					fields = append(fields, Field{Type: "scalar", Name: "init" + mv.Name, Value: func(m int) string {
						return formatScalar(g.Member(m).VarInits[vi].Constant)
					}})
				}
			}
		}
		return fields
	}
	return fields
}

// VarInitConstantHeterogeneous reports whether the constant initialiser of
// variable v differs across members
func (g *NeuronGroupMerged) VarInitConstantHeterogeneous(v int) bool {
	first := g.Archetype().VarInits[v].Constant
	for _, ref := range g.refs[1:] {
		if g.net.Neuron(ref).VarInits[v].Constant != first {
			return true
		}
	}
	return false
}

// LayoutDigest is a stable digest of the group's structural identity: role,
// field layout and member count. Two runs over an unchanged model produce
// identical digests
func (g *NeuronGroupMerged) LayoutDigest() uint64 {
	return layoutDigest(g.role, g.Fields(), len(g.refs))
}

func (g *NeuronGroupMerged) pointerField(elemType, fieldName, arrayName string) Field {
	return Field{Type: elemType + "*", Name: fieldName, Value: func(m int) string {
		return g.prefix + arrayName + g.Member(m).Name
	}}
}

// SynapseGroupMerged is the projection counterpart of NeuronGroupMerged
type SynapseGroupMerged struct {
	index  int
	role   Role
	refs   []int
	net    *model.Network
	prefix string
}

func (g *SynapseGroupMerged) Index() int { return g.index }

func (g *SynapseGroupMerged) Role() Role { return g.role }

func (g *SynapseGroupMerged) Size() int { return len(g.refs) }

func (g *SynapseGroupMerged) Refs() []int { return g.refs }

func (g *SynapseGroupMerged) Archetype() *model.SynapseGroup { return g.net.Synapse(g.refs[0]) }

func (g *SynapseGroupMerged) Member(i int) *model.SynapseGroup { return g.net.Synapse(g.refs[i]) }

func (g *SynapseGroupMerged) Name() string {
	return fmt.Sprintf("Merged%sGroup%d", g.role.Prefix(), g.index)
}

// WUParamHeterogeneous reports whether weight update parameter p varies
// across members
func (g *SynapseGroupMerged) WUParamHeterogeneous(p int) bool {
	first := g.Archetype().WUParamValues[p]
	for _, ref := range g.refs[1:] {
		if g.net.Synapse(ref).WUParamValues[p] != first {
			return true
		}
	}
	return false
}

// ConnectivityParamHeterogeneous reports whether connectivity initialiser
// parameter p varies across members
func (g *SynapseGroupMerged) ConnectivityParamHeterogeneous(p int) bool {
	first := g.Archetype().ConnectivityParams[p]
	for _, ref := range g.refs[1:] {
		if g.net.Synapse(ref).ConnectivityParams[p] != first {
			return true
		}
	}
	return false
}

func (g *SynapseGroupMerged) Fields() []Field {
	arch := g.Archetype()
	if g.role == RoleSynapseDendriticDelayUpdate {
		return []Field{
			{Type: "unsigned int*", Name: "denDelayPtr", Value: func(m int) string {
				return g.prefix + "denDelayPtr" + g.Member(m).Name
			}},
		}
	}

	fields := []Field{
		{Type: "unsigned int", Name: "numSrcNeurons", Value: func(m int) string {
			return strconv.FormatUint(uint64(g.Member(m).SrcGroup().NumNeurons), 10)
		}},
		{Type: "unsigned int", Name: "numTrgNeurons", Value: func(m int) string {
			return strconv.FormatUint(uint64(g.Member(m).TrgGroup().NumNeurons), 10)
		}},
		{Type: "unsigned int", Name: "rowStride", Value: func(m int) string {
			return strconv.FormatUint(uint64(g.Member(m).MaxRowLength()), 10)
		}},
	}
	if arch.Matrix.Sparse() {
		fields = append(fields, g.pointerField("unsigned int", "rowLength", "rowLength"))
		fields = append(fields, g.pointerField("unsigned int", "ind", "ind"))
	} else if arch.Matrix.Bitmask() {
		fields = append(fields, g.pointerField("uint32_t", "gp", "gp"))
	}

	update := g.role == RolePresynapticUpdate || g.role == RolePostsynapticUpdate || g.role == RoleSynapseDynamics
	if update {
		fields = append(fields, g.pointerField("scalar", "inSyn", "inSyn"))
		if arch.DendriticDelayRequired() {
			fields = append(fields, g.pointerField("scalar", "denDelay", "denDelay"))
			fields = append(fields, g.pointerField("unsigned int", "denDelayPtr", "denDelayPtr"))
		}
		fields = append(fields, g.srcPointerField("unsigned int", "srcSpkCnt", "glbSpkCnt"))
		fields = append(fields, g.srcPointerField("unsigned int", "srcSpk", "glbSpk"))
		if arch.WUModel.EventCode != "" {
			fields = append(fields, g.srcPointerField("unsigned int", "srcSpkCntEvnt", "glbSpkCntEvnt"))
			fields = append(fields, g.srcPointerField("unsigned int", "srcSpkEvnt", "glbSpkEvnt"))
		}
		if g.role == RolePostsynapticUpdate {
			fields = append(fields, g.trgPointerField("unsigned int", "trgSpkCnt", "glbSpkCnt"))
			fields = append(fields, g.trgPointerField("unsigned int", "trgSpk", "glbSpk"))
		}
		if arch.SrcGroup().DelayRequired() {
			fields = append(fields, g.srcPointerField("unsigned int", "srcSpkQuePtr", "spkQuePtr"))
		}
		if arch.TrgGroup().DelayRequired() {
			fields = append(fields, g.trgPointerField("unsigned int", "trgSpkQuePtr", "spkQuePtr"))
		}
		if arch.SrcGroup().SpikeTimeRequired() {
			fields = append(fields, g.srcPointerField("timepoint", "sTPre", "sT"))
		}
		if arch.TrgGroup().SpikeTimeRequired() {
			fields = append(fields, g.trgPointerField("timepoint", "sTPost", "sT"))
		}
	}
	if arch.Matrix.Individual() && (update || g.role == RoleSynapseDenseInit || g.role == RoleSynapseSparseInit) {
		for _, v := range arch.WUModel.Vars {
			fields = append(fields, g.pointerField(v.Type, v.Name, v.Name))
		}
	}
	if g.role == RoleSynapseConnectivityInit {
		for p, pname := range arch.Connectivity.Params {
			if g.ConnectivityParamHeterogeneous(p) {
				pi := p
				fields = append(fields, Field{Type: "scalar", Name: pname, Value: func(m int) string {
					return formatScalar(g.Member(m).ConnectivityParams[pi])
				}})
			}
		}
	}
	if update {
		for p, pname := range arch.WUModel.Params {
			if g.WUParamHeterogeneous(p) {
				pi := p
				fields = append(fields, Field{Type: "scalar", Name: pname, Value: func(m int) string {
					return formatScalar(g.Member(m).WUParamValues[pi])
				}})
			}
		}
	}
	if g.role == RoleSynapseDenseInit || g.role == RoleSynapseSparseInit {
		for v, mv := range arch.WUModel.Vars {
			if g.WUVarInitConstantHeterogeneous(v) {
				vi := v
				fields = append(fields, Field{Type: "scalar", Name: "init" + mv.Name, Value: func(m int) string {
					return formatScalar(g.Member(m).WUVarInits[vi].Constant)
				}})
			}
		}
	}
	return fields
}

// WUVarInitConstantHeterogeneous reports whether the constant initialiser of
// synapse variable v differs across members
func (g *SynapseGroupMerged) WUVarInitConstantHeterogeneous(v int) bool {
	first := g.Archetype().WUVarInits[v].Constant
	for _, ref := range g.refs[1:] {
		if g.net.Synapse(ref).WUVarInits[v].Constant != first {
			return true
		}
	}
	return false
}

func (g *SynapseGroupMerged) LayoutDigest() uint64 {
	return layoutDigest(g.role, g.Fields(), len(g.refs))
}

func (g *SynapseGroupMerged) pointerField(elemType, fieldName, arrayName string) Field {
	return Field{Type: elemType + "*", Name: fieldName, Value: func(m int) string {
		return g.prefix + arrayName + g.Member(m).Name
	}}
}

func (g *SynapseGroupMerged) srcPointerField(elemType, fieldName, arrayName string) Field {
	return Field{Type: elemType + "*", Name: fieldName, Value: func(m int) string {
		return g.prefix + arrayName + g.Member(m).SrcGroup().Name
	}}
}

func (g *SynapseGroupMerged) trgPointerField(elemType, fieldName, arrayName string) Field {
	return Field{Type: elemType + "*", Name: fieldName, Value: func(m int) string {
		return g.prefix + arrayName + g.Member(m).TrgGroup().Name
	}}
}

func layoutDigest(role Role, fields []Field, size int) uint64 {
	var sb strings.Builder
	sb.WriteString(role.Prefix())
	for _, f := range fields {
		sb.WriteByte(';')
		sb.WriteString(f.Type)
		sb.WriteByte(' ')
		sb.WriteString(f.Name)
	}
	fmt.Fprintf(&sb, ";members=%d", size)
	return contentHash([]byte(sb.String()))
}

// formatScalar renders a numeric parameter value as a literal
func formatScalar(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
