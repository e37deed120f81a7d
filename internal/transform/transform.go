// Package transform implements the field transforms applied to input records
// and the builder that orders them into an execution plan.
package transform

// Array slots addressed by an Index
const (
	InputArray   = 0
	ScratchArray = 1
	OutputArray  = 2
)

// Index addresses one physical field slot: which array, and which field in it
type Index struct {
	Array int
	Field int
}

// Arrays is the read/write area a plan executes against. It is allocated once
// per plan and reused for every record.
type Arrays [3][]string

// Get returns the value at i
func (a *Arrays) Get(i Index) string {
	return a[i.Array][i.Field]
}

// Set stores v at i
func (a *Arrays) Set(i Index, v string) {
	a[i.Array][i.Field] = v
}

// Result is the outcome of applying a transform to one record
type Result int

const (
	// OK means the outputs were written
	OK Result = iota
	// Fail means the transform could not produce its outputs for this record
	Fail
	// Exclude means the record must not be sent to the analysis process
	Exclude
)

// Transform is one executable transform bound to concrete indexes
type Transform interface {
	Apply(a *Arrays) Result
	Name() string
	ReadIndexes() []Index
	WriteIndexes() []Index
}

type bound struct {
	name   string
	reads  []Index
	writes []Index
}

func (b *bound) Name() string          { return b.name }
func (b *bound) ReadIndexes() []Index  { return b.reads }
func (b *bound) WriteIndexes() []Index { return b.writes }
