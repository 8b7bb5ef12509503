package ir

// Global is a named storage location with a size, element type, dimensions,
// and an initializer array (spec.md §3). AllZero records whether the
// initializer is entirely zero, letting the backend skip emitting it.
type Global struct {
	id      GlobalID
	Name    string
	Size    int64
	ElemType Type
	Dims    []int64

	IntInit   []int64
	FloatInit []float64
	AllZero   bool
}

func (g *Global) ID() GlobalID { return g.id }

// ConstArray is a module-level constant-array literal, distinct from a
// mutable Global (spec.md §3's "constant-array literals" owned by the
// module's top-level region).
type ConstArray struct {
	Name      string
	ElemType  Type
	IntData   []int64
	FloatData []float64
}
