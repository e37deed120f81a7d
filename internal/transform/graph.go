package transform

import (
	"fmt"
	"sort"

	"go-anomaly-pipeline/internal/model"
)

// GraphErrorKind distinguishes the ways a transform graph can be invalid
type GraphErrorKind int

const (
	Cyclic GraphErrorKind = iota + 1
	MissingInput
)

// GraphError reports a transform graph that cannot be ordered or fed
type GraphError struct {
	Kind  GraphErrorKind
	Field string
}

func (e *GraphError) Error() string {
	if e.Kind == Cyclic {
		return fmt.Sprintf("transforms form a cycle through field %q", e.Field)
	}
	return fmt.Sprintf("field %q is neither in the input nor produced by a transform", e.Field)
}

// InputOutputMap copies an input column verbatim into an output column
type InputOutputMap struct {
	Input  int
	Output int
}

// FieldIndexes maps field names to their column in the input and output arrays
type FieldIndexes struct {
	Input  map[string]int
	Output map[string]int
}

// Plan is the executable form of a job's transforms for one input header
type Plan struct {
	// TimeStage runs first and produces the time field
	TimeStage []Transform
	// PostTimeStage runs once the record's time is known to be acceptable
	PostTimeStage []Transform
	Fields        FieldIndexes
	Copies        []InputOutputMap
	// Time is where the raw time value is found once the time stage has run
	Time        Index
	ScratchSize int
	InputWidth  int

	outputNames []string
}

// OutputNames returns the output header: time, analysis fields, control field
func (p *Plan) OutputNames() []string {
	return p.outputNames
}

// NewArrays allocates the read/write area for this plan
func (p *Plan) NewArrays() *Arrays {
	return &Arrays{
		make([]string, p.InputWidth),
		make([]string, p.ScratchSize),
		make([]string, len(p.outputNames)),
	}
}

// Builder turns transform configs into a Plan
type Builder struct {
	Transforms     []model.TransformConfig
	AnalysisFields []string
	TimeField      string
}

// NewBuilder returns a builder for the transforms and fields of job
func NewBuilder(job model.JobConfig) *Builder {
	return &Builder{
		Transforms:     job.Transforms,
		AnalysisFields: job.Analysis.AnalysisFields(),
		TimeField:      job.DataDescription.TimeField,
	}
}

type graph struct {
	outputs  [][]string
	producer map[string]int
	needed   []bool
}

// resolve marks the transforms transitively required by the time field, an
// analysis field, or an exclusion.
func (b *Builder) resolve() *graph {
	g := &graph{
		outputs:  make([][]string, len(b.Transforms)),
		producer: make(map[string]int),
		needed:   make([]bool, len(b.Transforms)),
	}
	for i, cfg := range b.Transforms {
		g.outputs[i] = Outputs(cfg)
		for _, out := range g.outputs[i] {
			g.producer[out] = i
		}
	}

	var queue []string
	mark := func(i int) {
		if !g.needed[i] {
			g.needed[i] = true
			queue = append(queue, b.Transforms[i].Inputs...)
		}
	}

	queue = append(queue, b.TimeField)
	queue = append(queue, b.AnalysisFields...)
	for i, cfg := range b.Transforms {
		if cfg.Transform == KindExclude.String() {
			mark(i)
		}
	}
	for len(queue) > 0 {
		field := queue[0]
		queue = queue[1:]
		if p, ok := g.producer[field]; ok {
			mark(p)
		}
	}
	return g
}

// InputFields returns the sorted names that must come from the raw input
func (b *Builder) InputFields() []string {
	g := b.resolve()
	set := make(map[string]struct{})
	add := func(f string) {
		if _, produced := g.producer[f]; !produced {
			set[f] = struct{}{}
		}
	}

	add(b.TimeField)
	for _, f := range b.AnalysisFields {
		add(f)
	}
	for i, cfg := range b.Transforms {
		if !g.needed[i] {
			continue
		}
		for _, in := range cfg.Inputs {
			if p, ok := g.producer[in]; !ok || !g.needed[p] {
				set[in] = struct{}{}
			}
		}
	}

	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Build verifies the transforms and orders the required ones against header
func (b *Builder) Build(header []string) (*Plan, error) {
	if err := Verify(b.Transforms); err != nil {
		return nil, err
	}
	if b.TimeField == "" {
		return nil, fmt.Errorf("no time field configured")
	}

	inputIdx := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := inputIdx[name]; !dup {
			inputIdx[name] = i
		}
	}

	g := b.resolve()
	for i, cfg := range b.Transforms {
		if !g.needed[i] {
			continue
		}
		for _, in := range cfg.Inputs {
			_, produced := g.producer[in]
			_, inHeader := inputIdx[in]
			if !produced && !inHeader {
				return nil, &GraphError{Kind: MissingInput, Field: in}
			}
		}
	}

	order, err := b.topoSort(g)
	if err != nil {
		return nil, err
	}

	outputNames, err := b.OutputNames()
	if err != nil {
		return nil, err
	}
	plan := &Plan{
		Fields: FieldIndexes{
			Input:  inputIdx,
			Output: make(map[string]int, len(outputNames)),
		},
		InputWidth:  len(header),
		outputNames: outputNames,
	}
	for i, name := range outputNames {
		plan.Fields.Output[name] = i
	}

	// Every output of a required transform gets a slot: output fields write
	// straight into the output array, everything else into scratch.
	written := make(map[string]Index)
	for _, i := range order {
		for _, out := range g.outputs[i] {
			if col, ok := plan.Fields.Output[out]; ok {
				written[out] = Index{Array: OutputArray, Field: col}
			} else {
				written[out] = Index{Array: ScratchArray, Field: plan.ScratchSize}
				plan.ScratchSize++
			}
		}
	}

	timeStage := b.timeProducers(g)
	for _, i := range order {
		cfg := b.Transforms[i]
		reads := make([]Index, len(cfg.Inputs))
		for j, in := range cfg.Inputs {
			if idx, ok := written[in]; ok {
				reads[j] = idx
			} else {
				reads[j] = Index{Array: InputArray, Field: inputIdx[in]}
			}
		}
		writes := make([]Index, len(g.outputs[i]))
		for j, out := range g.outputs[i] {
			writes[j] = written[out]
		}

		t, err := New(cfg, reads, writes)
		if err != nil {
			return nil, err
		}
		if timeStage[i] {
			plan.TimeStage = append(plan.TimeStage, t)
		} else {
			plan.PostTimeStage = append(plan.PostTimeStage, t)
		}
	}

	if idx, ok := written[b.TimeField]; ok {
		plan.Time = idx
	} else if col, ok := inputIdx[b.TimeField]; ok {
		plan.Time = Index{Array: InputArray, Field: col}
	} else {
		return nil, &GraphError{Kind: MissingInput, Field: b.TimeField}
	}

	for _, name := range outputNames[1 : len(outputNames)-1] {
		if _, ok := written[name]; ok {
			continue
		}
		col, ok := inputIdx[name]
		if !ok {
			return nil, &GraphError{Kind: MissingInput, Field: name}
		}
		plan.Copies = append(plan.Copies, InputOutputMap{Input: col, Output: plan.Fields.Output[name]})
	}
	return plan, nil
}

// topoSort orders the needed transforms so every input is available before it is
// read. Among ready transforms the earliest declared goes first.
func (b *Builder) topoSort(g *graph) ([]int, error) {
	total := 0
	for _, n := range g.needed {
		if n {
			total++
		}
	}

	done := make([]bool, len(b.Transforms))
	ready := func(i int) bool {
		for _, in := range b.Transforms[i].Inputs {
			if p, ok := g.producer[in]; ok && !done[p] {
				return false
			}
		}
		return true
	}

	order := make([]int, 0, total)
	for len(order) < total {
		next := -1
		for i := range b.Transforms {
			if g.needed[i] && !done[i] && ready(i) {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &GraphError{Kind: Cyclic, Field: b.stuckField(g, done)}
		}
		done[next] = true
		order = append(order, next)
	}
	return order, nil
}

func (b *Builder) stuckField(g *graph, done []bool) string {
	for i, cfg := range b.Transforms {
		if !g.needed[i] || done[i] {
			continue
		}
		for _, in := range cfg.Inputs {
			if p, ok := g.producer[in]; ok && !done[p] {
				return in
			}
		}
	}
	return ""
}

// timeProducers marks the transforms the time field transitively depends on
func (b *Builder) timeProducers(g *graph) []bool {
	marked := make([]bool, len(b.Transforms))
	queue := []string{b.TimeField}
	for len(queue) > 0 {
		field := queue[0]
		queue = queue[1:]
		p, ok := g.producer[field]
		if !ok || marked[p] {
			continue
		}
		marked[p] = true
		queue = append(queue, b.Transforms[p].Inputs...)
	}
	return marked
}

// OutputNames returns the output header: the time field, the analysis fields
// in alphabetical order, then the control field
func (b *Builder) OutputNames() ([]string, error) {
	names := []string{b.TimeField}
	seen := map[string]bool{b.TimeField: true}
	fields := append([]string(nil), b.AnalysisFields...)
	sort.Strings(fields)
	for _, f := range fields {
		if f == ControlField {
			return nil, fmt.Errorf("field name %q is reserved", ControlField)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		names = append(names, f)
	}
	return append(names, ControlField), nil
}
