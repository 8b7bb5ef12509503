package ir

// AttrKind enumerates the attribute kinds operations and functions can carry
// (spec.md §3). Attributes are values, stored in a per-Op map, except for
// the block-identity back-references (Target/Else/From) which carry a
// BlockID rather than owning data.
type AttrKind int

const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrName
	AttrSize
	AttrDimension
	AttrTarget     // branch target block
	AttrElse       // branch false-target block
	AttrFrom       // phi incoming predecessor
	AttrIntArray
	AttrFloatArray
	AttrImpure
	AttrAtMostOnce
	AttrCaller
	AttrRange
	AttrAlias
	AttrFP
	AttrParallelizable
)

// Range is the integer-interval payload of AttrRange: either unknown, or a
// closed interval over i32 saturating at the i32 bounds (spec.md §3).
type Range struct {
	Known  bool
	Lo, Hi int32
}

// UnknownRange is the "no information" range.
var UnknownRange = Range{Known: false}

// AliasBaseKind distinguishes the two kinds of storage an AliasSet can name.
type AliasBaseKind int

const (
	AliasBaseAlloca AliasBaseKind = iota
	AliasBaseGlobal
)

// AliasBase identifies one storage base: an AllocaOp (by OpID) or a Global
// (by GlobalID).
type AliasBase struct {
	Kind    AliasBaseKind
	OpID    OpID
	GlobID  GlobalID
}

// AliasSet is the payload of AttrAlias: either unknown, or a mapping from
// base to the set of byte offsets that may be touched. An offset of -1
// denotes "unknown within this base" (spec.md §3).
type AliasSet struct {
	Known   bool
	Offsets map[AliasBase]map[int64]bool
}

// UnknownAlias is the "no information" alias set.
func UnknownAlias() AliasSet { return AliasSet{Known: false} }

// NewAliasSet creates a known, empty alias set.
func NewAliasSet() AliasSet {
	return AliasSet{Known: true, Offsets: map[AliasBase]map[int64]bool{}}
}

// Add records that base+offset may be touched. offset == -1 poisons the
// whole base to "unknown within this base".
func (a *AliasSet) Add(base AliasBase, offset int64) {
	if !a.Known {
		return
	}
	if a.Offsets[base] == nil {
		a.Offsets[base] = map[int64]bool{}
	}
	a.Offsets[base][offset] = true
}

// Merge unions other into a, preserving unknown-ness.
func (a *AliasSet) Merge(other AliasSet) {
	if !a.Known || !other.Known {
		a.Known = false
		a.Offsets = nil
		return
	}
	for base, offs := range other.Offsets {
		for off := range offs {
			a.Add(base, off)
		}
	}
}

// Attr is a typed union of every attribute payload. Only the field(s)
// relevant to Kind are meaningful.
type Attr struct {
	Kind       AttrKind
	Int        int64
	Float      float64
	Name       string
	Size       int64
	Dims       []int64
	Block      BlockID
	IntArray   []int64
	FloatArray []float64
	Bool       bool
	Callers    []FuncID
	Range      Range
	Alias      AliasSet
}

// AttrMap holds the attributes of a single Op or Function, keyed by kind.
type AttrMap map[AttrKind]Attr

func (m AttrMap) Int(k AttrKind) (int64, bool) {
	a, ok := m[k]
	return a.Int, ok
}

func (m AttrMap) Name(k AttrKind) (string, bool) {
	a, ok := m[k]
	return a.Name, ok
}

func (m AttrMap) Block(k AttrKind) (BlockID, bool) {
	a, ok := m[k]
	return a.Block, ok
}

func (m AttrMap) SizeOf(k AttrKind) (int64, bool) {
	a, ok := m[k]
	return a.Size, ok
}

func (m AttrMap) Bool(k AttrKind) bool {
	a, ok := m[k]
	return ok && a.Bool
}

func (m AttrMap) Clone() AttrMap {
	out := make(AttrMap, len(m))
	for k, v := range m {
		// Deep-copy slice/map payloads so mutating the clone never aliases
		// the original (used by Builder.Copy).
		cp := v
		if v.Dims != nil {
			cp.Dims = append([]int64(nil), v.Dims...)
		}
		if v.IntArray != nil {
			cp.IntArray = append([]int64(nil), v.IntArray...)
		}
		if v.FloatArray != nil {
			cp.FloatArray = append([]float64(nil), v.FloatArray...)
		}
		if v.Callers != nil {
			cp.Callers = append([]FuncID(nil), v.Callers...)
		}
		out[k] = cp
	}
	return out
}
