// Package ir implements the mid-level IR core: operations, basic blocks,
// regions, functions and the module that owns them, plus the Builder that
// creates and rewrites them in place.
//
// Every entity is an arena index into slices owned by *Module rather than a
// pointer, so the IR can be freely duplicated, iterated while mutating (via
// worklist snapshots) and never forms reference cycles.
package ir

// OpID identifies an Op within a Module's arena. The zero value is never a
// valid id; real ids start at 1.
type OpID int

// BlockID identifies a BasicBlock within a Module's arena.
type BlockID int

// RegionID identifies a Region within a Module's arena.
type RegionID int

// FuncID identifies a Function within a Module's arena.
type FuncID int

// GlobalID identifies a Global within a Module's arena.
type GlobalID int

// InvalidOp, InvalidBlock, etc. are the zero values, used as "no id".
const (
	InvalidOp     OpID     = 0
	InvalidBlock  BlockID  = 0
	InvalidRegion RegionID = 0
	InvalidFunc   FuncID   = 0
	InvalidGlobal GlobalID = 0
)

func (id OpID) Valid() bool     { return id != InvalidOp }
func (id BlockID) Valid() bool  { return id != InvalidBlock }
func (id RegionID) Valid() bool { return id != InvalidRegion }
func (id FuncID) Valid() bool   { return id != InvalidFunc }
