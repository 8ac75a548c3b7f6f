// Package core provides the flat graph representation shared by all inference runs.
//
// A FlatGraph is the compiled, immutable form of a factor graph: variables
// become dense integer ids with prefix-summed state offsets, factor groups
// become homogeneous descriptors with per-edge message offsets, and a CSR
// table maps each variable back to its incident edges. Kernels and drivers
// operate exclusively on these offset tables, so inference never touches the
// declarative model again after compilation.
//
// Key components:
//   - FactorKind: small enum indexing the kernel catalog
//   - GroupDesc: one homogeneous batch of factors with its edge table
//   - FlatGraph: the complete compiled artifact, safe for concurrent reads
//
// A FlatGraph is immutable once built. Mutable inference state (messages,
// evidence, log-potential overrides) lives in a runtime Arena that references
// the FlatGraph's offsets.
package core

// FactorKind identifies the kernel family a factor group dispatches to.
type FactorKind uint8

// Factor kinds, in catalog order.
const (
	KindEnumerated FactorKind = iota
	KindPairwise
	KindOR
	KindAND

	// KindCount bounds the kernel catalog array.
	KindCount
)

// String returns the lower-case kind name.
func (k FactorKind) String() string {
	switch k {
	case KindEnumerated:
		return "enumerated"
	case KindPairwise:
		return "pairwise"
	case KindOR:
		return "or"
	case KindAND:
		return "and"
	}
	return "unknown"
}

// VarGroupDesc records the contiguous id range owned by one variable group.
// User-facing indexing translates (group, index) to FirstVar+index, which
// keeps the runtime free of any nested array reflection.
type VarGroupDesc struct {
	Name      string
	FirstVar  int // first global variable id in the range
	NumVars   int
	NumStates int
}

// EdgeDesc is one (factor, variable) connection. Offset points into the flat
// message arrays; a message for this edge occupies States consecutive slots.
type EdgeDesc struct {
	Var    int32 // global variable id
	Offset int32 // start index into the F2V/V2F arrays
	States int32 // state count of Var
}

// GroupDesc is a homogeneous batch of factors of one kind.
//
// Edges are stored CSR-style: factor f's edges are
// Edges[FactorStart[f]:FactorStart[f+1]], in slot order. For enumerated
// groups the slot order defines the configuration axes; for logical groups
// the slots are (parents..., child).
type GroupDesc struct {
	Kind       FactorKind
	Name       string
	NumFactors int

	FactorStart []int32 // len NumFactors+1
	Edges       []EdgeDesc

	// Enumerated groups share one configuration table across all factors:
	// NumConfigs rows of Arity states, row-major. Empty for other kinds.
	NumConfigs int
	Arity      int
	Configs    []int32

	// Baseline log-potentials, LogPotStride values per factor. Enumerated
	// groups use stride NumConfigs, pairwise groups stride k1*k2 (row-major).
	// Logical groups carry no table: their -inf entries are implicit in the
	// kernels and never materialized.
	LogPotStride int
	LogPot       []float64
}

// FactorEdges returns factor f's edges in slot order.
func (g *GroupDesc) FactorEdges(f int) []EdgeDesc {
	return g.Edges[g.FactorStart[f]:g.FactorStart[f+1]]
}

// FactorLogPot slices factor f's log-potential row out of pot, which may be
// the baseline table or an arena override with the same layout.
func (g *GroupDesc) FactorLogPot(pot []float64, f int) []float64 {
	return pot[f*g.LogPotStride : (f+1)*g.LogPotStride]
}

// FlatGraph is the compiled factor graph. It is shared read-only across
// concurrent inference sessions; each session owns its own Arena.
type FlatGraph struct {
	VarGroups []VarGroupDesc

	NumVars     int
	VarOffsets  []int32 // len NumVars+1, prefix sums of VarStates
	VarStates   []int32 // len NumVars
	TotalStates int     // sum of all state counts

	Groups []GroupDesc

	// TotalMsgLen aggregates per-edge state lengths; F2V and V2F arrays in an
	// arena have exactly this length.
	TotalMsgLen int

	// Reverse CSR: variable v's incident edges have message offsets
	// VarEdges[VarEdgeStart[v]:VarEdgeStart[v+1]].
	VarEdgeStart []int32 // len NumVars+1
	VarEdges     []int32

	// MaxDegree is the largest number of edges incident to any variable or
	// factor. The smoothed-dual solver derives its default step size from it.
	MaxDegree int

	varGroupIdx map[string]int
	groupIdx    map[string]int
}

// BuildIndexes populates the name lookup maps. Called once by the compiler.
func (fg *FlatGraph) BuildIndexes() {
	fg.varGroupIdx = make(map[string]int, len(fg.VarGroups))
	for i, vg := range fg.VarGroups {
		fg.varGroupIdx[vg.Name] = i
	}
	fg.groupIdx = make(map[string]int, len(fg.Groups))
	for i, g := range fg.Groups {
		fg.groupIdx[g.Name] = i
	}
}

// VarGroup looks up a variable group by name.
func (fg *FlatGraph) VarGroup(name string) (VarGroupDesc, bool) {
	i, ok := fg.varGroupIdx[name]
	if !ok {
		return VarGroupDesc{}, false
	}
	return fg.VarGroups[i], true
}

// Group looks up a factor group by name.
func (fg *FlatGraph) Group(name string) (*GroupDesc, bool) {
	i, ok := fg.groupIdx[name]
	if !ok {
		return nil, false
	}
	return &fg.Groups[i], true
}

// VarSlice slices variable v's segment out of a state-indexed array such as
// evidence or beliefs.
func (fg *FlatGraph) VarSlice(arr []float64, v int32) []float64 {
	return arr[fg.VarOffsets[v]:fg.VarOffsets[v+1]]
}

// IncidentEdges returns the message offsets of variable v's incident edges.
func (fg *FlatGraph) IncidentEdges(v int32) []int32 {
	return fg.VarEdges[fg.VarEdgeStart[v]:fg.VarEdgeStart[v+1]]
}

// NumFactors returns the total factor count across all groups.
func (fg *FlatGraph) NumFactors() int {
	n := 0
	for i := range fg.Groups {
		n += fg.Groups[i].NumFactors
	}
	return n
}

// NumEdges returns the total edge count across all groups.
func (fg *FlatGraph) NumEdges() int {
	n := 0
	for i := range fg.Groups {
		n += len(fg.Groups[i].Edges)
	}
	return n
}
