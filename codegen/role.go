package codegen

// Role identifies the computation phase a merge pass targets. Each role gets
// its own independent merged-group collection and its own identifier prefix
// in generated code
type Role int

const (
	RoleNeuronUpdate Role = iota
	RolePresynapticUpdate
	RolePostsynapticUpdate
	RoleSynapseDynamics
	RoleNeuronInit
	RoleSynapseDenseInit
	RoleSynapseConnectivityInit
	RoleSynapseSparseInit
	RoleNeuronSpikeQueueUpdate
	RoleSynapseDendriticDelayUpdate

	roleCount
)

var rolePrefixes = [roleCount]string{
	"NeuronUpdate",
	"PresynapticUpdate",
	"PostsynapticUpdate",
	"SynapseDynamics",
	"NeuronInit",
	"SynapseDenseInit",
	"SynapseConnectivityInit",
	"SynapseSparseInit",
	"NeuronSpikeQueueUpdate",
	"SynapseDendriticDelayUpdate",
}

// Prefix is the role's name as used in generated struct and kernel
// identifiers
func (r Role) Prefix() string {
	return rolePrefixes[r]
}

func (r Role) String() string {
	return rolePrefixes[r]
}

// Kernel identifies one generated entry point. Several roles may dispatch
// inside one kernel (e.g. both neuron init and dense init run in
// KernelInitialize)
type Kernel int

const (
	KernelNeuronUpdate Kernel = iota
	KernelPresynapticUpdate
	KernelPostsynapticUpdate
	KernelSynapseDynamicsUpdate
	KernelInitialize
	KernelInitializeSparse
	KernelPreNeuronReset
	KernelPreSynapseReset

	KernelMax
)

var kernelNames = [KernelMax]string{
	"updateNeuronsKernel",
	"updatePresynapticKernel",
	"updatePostsynapticKernel",
	"updateSynapseDynamicsKernel",
	"initializeKernel",
	"initializeSparseKernel",
	"preNeuronResetKernel",
	"preSynapseResetKernel",
}

// Name is the kernel's identifier in generated code
func (k Kernel) Name() string {
	return kernelNames[k]
}
