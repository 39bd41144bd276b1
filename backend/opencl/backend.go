// Package opencl generates OpenCL kernel source and host glue from a merged
// model: one struct typedef per merged group, a build kernel and host push
// function populating one struct instance per member, constant start-ID
// arrays and the compute kernels themselves
package opencl

import (
	"fmt"
	"strings"

	"github.com/snngen/snngen/codegen"
	"github.com/snngen/snngen/model"
)

const defaultWorkGroupSize = 32

// Preferences tunes kernel launch shapes
type Preferences struct {
	// WorkGroupSizes overrides the per-kernel workgroup size; zero keeps
	// the default of 32
	WorkGroupSizes [codegen.KernelMax]uint
}

// Backend emits OpenCL sources. Safe for concurrent use once constructed
type Backend struct {
	prefs      Preferences
	strategies []presynapticStrategy
}

// New builds a backend with its presynaptic update strategy registry
func New(prefs Preferences) *Backend {
	return &Backend{
		prefs:      prefs,
		strategies: []presynapticStrategy{preSpanStrategy{}, postSpanStrategy{}},
	}
}

func (b *Backend) WorkGroupSize(k codegen.Kernel) uint {
	if s := b.prefs.WorkGroupSizes[k]; s != 0 {
		return s
	}
	return defaultWorkGroupSize
}

func (b *Backend) NumPresynapticUpdateThreads(sg *model.SynapseGroup) uint {
	if sg.Span == model.PreSpan {
		return sg.SrcGroup().NumNeurons
	}
	return sg.MaxRowLength()
}

func (b *Backend) NumPostsynapticUpdateThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons
}

func (b *Backend) NumSynapseDynamicsThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons * sg.MaxRowLength()
}

func (b *Backend) NumConnectivityInitThreads(sg *model.SynapseGroup) uint {
	return sg.SrcGroup().NumNeurons
}

func (b *Backend) GenVariablePrefix() string { return "d_" }

func (b *Backend) GenBarrier(w *codegen.CodeWriter) {
	w.Line("barrier(CLK_LOCAL_MEM_FENCE);")
}

func (b *Backend) GenAtomicAdd(target, value string) string {
	return fmt.Sprintf("atomic_add(&%s, %s)", target, value)
}

// resolveType maps logical field types onto OpenCL types. Pointers land in
// the global address space
func resolveType(net *model.Network, t string) string {
	if elem, ok := strings.CutSuffix(t, "*"); ok {
		return "__global " + resolveType(net, elem) + "*"
	}
	switch t {
	case "scalar":
		return net.Precision
	case "timepoint":
		return timeType(net)
	case "rngState":
		return "rngState"
	}
	return t
}

func timeType(net *model.Network) string {
	if net.TimePrecision != "" {
		return net.TimePrecision
	}
	return net.Precision
}

// genPreamble emits the typedefs and helpers every kernel source relies on
func genPreamble(w *codegen.CodeWriter, net *model.Network) {
	w.Line("typedef %s scalar;", net.Precision)
	w.Line("typedef %s timepoint;", timeType(net))
	w.Line("typedef uint uint32_t;")
	w.Line("typedef struct { ulong s[2]; } rngState;")
	w.Line("#define TIME_MAX 3.402823466e+38%s", net.ScalarSuffix())
	w.Blank()
	w.Scope(fmt.Sprintf("inline void atomicAddFloat(volatile __global %s *target, %s value)",
		net.Precision, net.Precision), func() {
		w.Line("union { unsigned int i; %s f; } old, next;", net.Precision)
		w.ScopeSuffix("do", " while (atomic_cmpxchg((volatile __global unsigned int*)target, old.i, next.i) != old.i);", func() {
			w.Line("old.f = *target;")
			w.Line("next.f = old.f + value;")
		})
	})
	w.Blank()
	w.Scope("inline ulong rngNext(__global rngState *s)", func() {
		w.Line("ulong x = s->s[0];")
		w.Line("const ulong y = s->s[1];")
		w.Line("s->s[0] = y;")
		w.Line("x ^= x << 23;")
		w.Line("s->s[1] = x ^ y ^ (x >> 17) ^ (y >> 26);")
		w.Line("return s->s[1] + y;")
	})
	w.Scope("inline scalar rngUniform(__global rngState *s)", func() {
		w.Line("return (scalar)(rngNext(s) >> 11) * ((scalar)1.0 / (scalar)9007199254740992.0);")
	})
	w.Scope("inline scalar rngNormal(__global rngState *s)", func() {
		w.Line("const scalar u1 = rngUniform(s);")
		w.Line("const scalar u2 = rngUniform(s);")
		w.Line("return sqrt((scalar)-2.0 * log(u1)) * cos((scalar)6.283185307179586 * u2);")
	})
	w.Blank()
}

// genGroupDefs emits, per merged group: the struct typedef, the device array
// holding one struct per member, the build kernel writing one member's fields
// and the host push function invoking it for every member
func genGroupDefs[G codegen.MergedGroup](w *codegen.CodeWriter, net *model.Network, groups []G) {
	for _, g := range groups {
		fields := g.Fields()
		w.ScopeSuffix("typedef struct", " "+g.Name()+";", func() {
			for _, f := range fields {
				w.Line("%s %s;", resolveType(net, f.Type), f.Name)
			}
		})
		w.Line("__global %s *d_merged%sGroup%d;", g.Name(), g.Role().Prefix(), g.Index())
		w.Blank()

		params := make([]string, 0, len(fields)+2)
		params = append(params, fmt.Sprintf("__global %s *group", g.Name()), "unsigned int idx")
		for _, f := range fields {
			params = append(params, fmt.Sprintf("%s %s", resolveType(net, f.Type), f.Name))
		}
		w.Scope(fmt.Sprintf("__kernel void build%sKernel(%s)", g.Name(), strings.Join(params, ", ")), func() {
			for _, f := range fields {
				w.Line("group[idx].%s = %s;", f.Name, f.Name)
			}
		})
		w.Blank()

		w.Scope(fmt.Sprintf("void push%sToDevice()", g.Name()), func() {
			for m := 0; m < g.Size(); m++ {
				args := make([]string, 0, len(fields)+2)
				args = append(args, fmt.Sprintf("d_merged%sGroup%d", g.Role().Prefix(), g.Index()),
					fmt.Sprintf("%d", m))
				for _, f := range fields {
					args = append(args, f.Value(m))
				}
				w.Line("build%sKernel(%s);", g.Name(), strings.Join(args, ", "))
			}
		})
		w.Blank()
	}
}

// genStartIDs emits the constant member start-ID array for one merged group
func genStartIDs[G codegen.MergedGroup](w *codegen.CodeWriter, g G, start uint,
	paddedThreads func(g G, member int) uint) {
	ids := codegen.MemberStartIDs(g, start, paddedThreads)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	w.Line("__constant unsigned int d_merged%sGroupStartID%d[] = {%s};",
		g.Role().Prefix(), g.Index(), strings.Join(parts, ", "))
}

// genMemberLookup emits the binary search locating the struct instance
// owning thread id within [r.Start, r.End) and binds "group" plus the
// group-local "lid"
func genMemberLookup[G codegen.MergedGroup](w *codegen.CodeWriter, g G, r codegen.IDRange) {
	ids := fmt.Sprintf("d_merged%sGroupStartID%d", g.Role().Prefix(), g.Index())
	w.Line("unsigned int lo = 0;")
	w.Line("unsigned int hi = %d;", g.Size())
	w.Scope("while (hi - lo > 1)", func() {
		w.Line("const unsigned int mid = (lo + hi) / 2;")
		w.Scope(fmt.Sprintf("if (id < %s[mid])", ids), func() {
			w.Line("hi = mid;")
		})
		w.Scope("else", func() {
			w.Line("lo = mid;")
		})
	})
	w.Line("__global %s *group = &d_merged%sGroup%d[lo];", g.Name(), g.Role().Prefix(), g.Index())
	w.Line("const unsigned int lid = id - %s[lo];", ids)
}

// genLaunchSize emits the host-visible global work size of one kernel. The
// running prefix total pads again to the kernel's workgroup size so the
// NDRange divides evenly
func (b *Backend) genLaunchSize(w *codegen.CodeWriter, k codegen.Kernel, total uint) {
	w.Line("const size_t %sWorkSize = %d;", k.Name(), codegen.PadSize(total, b.WorkGroupSize(k)))
}

func totalMembers[G codegen.MergedGroup](groups []G) uint {
	var n uint
	for _, g := range groups {
		n += uint(g.Size())
	}
	return n
}

func neuronPtrs(groups []codegen.NeuronGroupMerged) []*codegen.NeuronGroupMerged {
	out := make([]*codegen.NeuronGroupMerged, len(groups))
	for i := range groups {
		out[i] = &groups[i]
	}
	return out
}

func synapsePtrs(groups []codegen.SynapseGroupMerged) []*codegen.SynapseGroupMerged {
	out := make([]*codegen.SynapseGroupMerged, len(groups))
	for i := range groups {
		out[i] = &groups[i]
	}
	return out
}

// padTo returns a per-member padded thread function with fixed granularity
func padTo[G codegen.MergedGroup](work func(g G, member int) uint, granularity uint) func(g G, member int) uint {
	return func(g G, member int) uint {
		return codegen.PadSize(work(g, member), granularity)
	}
}

// onePerMember sizes bookkeeping kernels that touch each member exactly once
func onePerMember[G codegen.MergedGroup](G, int) uint { return 1 }
