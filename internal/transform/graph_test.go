package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/model"
)

// assertNoForwardReads checks that every index a transform reads is either an
// input column or was written by a transform that runs before it.
func assertNoForwardReads(t *testing.T, plan *Plan) {
	t.Helper()
	written := make(map[Index]bool)
	for _, tr := range append(append([]Transform(nil), plan.TimeStage...), plan.PostTimeStage...) {
		for _, r := range tr.ReadIndexes() {
			if r.Array == InputArray {
				continue
			}
			assert.True(t, written[r], "%s reads %v before it is written", tr.Name(), r)
		}
		for _, w := range tr.WriteIndexes() {
			written[w] = true
		}
	}
}

func TestBuildTimeStageAndPruning(t *testing.T) {
	b := &Builder{
		Transforms: []model.TransformConfig{
			{Transform: "uppercase", Inputs: []string{"host"}, Outputs: []string{"host_upper"}},
			{Transform: "concat", Inputs: []string{"date", "time"}, Outputs: []string{"datetime"}, Arguments: []string{" "}},
		},
		AnalysisFields: []string{"bytes", "host"},
		TimeField:      "datetime",
	}

	plan, err := b.Build([]string{"date", "time", "host", "bytes"})
	require.NoError(t, err)

	require.Len(t, plan.TimeStage, 1)
	assert.Equal(t, "concat", plan.TimeStage[0].Name())
	assert.Empty(t, plan.PostTimeStage, "uppercase output is not used by any field")

	assert.Equal(t, []string{"datetime", "bytes", "host", "."}, plan.OutputNames())
	assert.Equal(t, Index{Array: OutputArray, Field: 0}, plan.Time)
	assert.Equal(t, 0, plan.ScratchSize)
	assert.ElementsMatch(t, []InputOutputMap{{Input: 3, Output: 1}, {Input: 2, Output: 2}}, plan.Copies)
	assertNoForwardReads(t, plan)
}

func TestBuildOrdersByAvailability(t *testing.T) {
	// declared out of order: trim reads the output of lowercase declared later
	b := &Builder{
		Transforms: []model.TransformConfig{
			{Transform: "trim", Inputs: []string{"lower"}, Outputs: []string{"clean"}},
			{Transform: "domain_split", Inputs: []string{"clean"}},
			{Transform: "lowercase", Inputs: []string{"raw_host"}, Outputs: []string{"lower"}},
			{Transform: "uppercase", Inputs: []string{"user"}, Outputs: []string{"user_upper"}},
		},
		AnalysisFields: []string{"hrd", "subDomain", "user_upper"},
		TimeField:      "ts",
	}

	plan, err := b.Build([]string{"ts", "raw_host", "user"})
	require.NoError(t, err)
	assert.Empty(t, plan.TimeStage)

	var names []string
	for _, tr := range plan.PostTimeStage {
		names = append(names, tr.Name())
	}
	assert.Equal(t, []string{"lowercase", "trim", "domain_split", "uppercase"}, names)
	assert.Equal(t, []string{"ts", "hrd", "subDomain", "user_upper", "."}, plan.OutputNames())
	assert.Equal(t, 2, plan.ScratchSize, "lower and clean live in scratch")
	assert.Empty(t, plan.Copies)
	assert.Equal(t, Index{Array: InputArray, Field: 0}, plan.Time)
	assertNoForwardReads(t, plan)
}

func TestBuildExcludeRunsAfterTime(t *testing.T) {
	b := &Builder{
		Transforms: []model.TransformConfig{
			{Transform: "exclude", Inputs: []string{"level"}, Condition: &model.Condition{Operator: model.OpEq, Value: "debug"}},
		},
		AnalysisFields: []string{"msg"},
		TimeField:      "ts",
	}
	assert.Equal(t, []string{"level", "msg", "ts"}, b.InputFields())

	plan, err := b.Build([]string{"ts", "msg", "level"})
	require.NoError(t, err)
	require.Len(t, plan.PostTimeStage, 1)
	assert.Equal(t, "exclude", plan.PostTimeStage[0].Name())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		b      *Builder
		header []string
		kind   GraphErrorKind
		field  string
	}{
		{
			name: "cycle",
			b: &Builder{
				Transforms: []model.TransformConfig{
					{Transform: "lowercase", Inputs: []string{"b"}, Outputs: []string{"a"}},
					{Transform: "uppercase", Inputs: []string{"a"}, Outputs: []string{"b"}},
				},
				AnalysisFields: []string{"a"},
				TimeField:      "ts",
			},
			header: []string{"ts"},
			kind:   Cyclic,
			field:  "b",
		},
		{
			name: "transform input missing",
			b: &Builder{
				Transforms: []model.TransformConfig{
					{Transform: "lowercase", Inputs: []string{"nowhere"}, Outputs: []string{"a"}},
				},
				AnalysisFields: []string{"a"},
				TimeField:      "ts",
			},
			header: []string{"ts"},
			kind:   MissingInput,
			field:  "nowhere",
		},
		{
			name:   "analysis field missing",
			b:      &Builder{AnalysisFields: []string{"bytes"}, TimeField: "ts"},
			header: []string{"ts", "host"},
			kind:   MissingInput,
			field:  "bytes",
		},
		{
			name:   "time field missing",
			b:      &Builder{AnalysisFields: []string{"bytes"}, TimeField: "ts"},
			header: []string{"bytes"},
			kind:   MissingInput,
			field:  "ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build(tt.header)
			var gerr *GraphError
			require.True(t, errors.As(err, &gerr), "got %v", err)
			assert.Equal(t, tt.kind, gerr.Kind)
			assert.Equal(t, tt.field, gerr.Field)
		})
	}
}

func TestPlanExecutesAgainstArrays(t *testing.T) {
	b := &Builder{
		Transforms: []model.TransformConfig{
			{Transform: "extract", Inputs: []string{"raw"}, Outputs: []string{"ts", "level"}, Arguments: []string{`^(\d+) (\w+)`}},
		},
		AnalysisFields: []string{"level"},
		TimeField:      "ts",
	}
	plan, err := b.Build([]string{"raw"})
	require.NoError(t, err)

	a := plan.NewArrays()
	a[InputArray][0] = "1700000000 ERROR something broke"
	for _, tr := range plan.TimeStage {
		require.Equal(t, OK, tr.Apply(a))
	}
	assert.Equal(t, "1700000000", a.Get(plan.Time))
	assert.Equal(t, "ERROR", a[OutputArray][plan.Fields.Output["level"]])
}
