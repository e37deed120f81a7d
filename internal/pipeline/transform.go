package pipeline

import (
	"go-anomaly-pipeline/internal/transform"
)

// load resets the read/write area and fills it from one record
func (p *Pipeline) load(values []string) {
	a := p.arrays
	in := a[transform.InputArray]
	n := copy(in, values)
	for i := n; i < len(in); i++ {
		in[i] = ""
	}
	clear(a[transform.ScratchArray])
	clear(a[transform.OutputArray])

	for _, c := range p.plan.Copies {
		a[transform.OutputArray][c.Output] = in[c.Input]
	}
}

// runStage applies each transform of stage in order. An exclusion stops the
// stage at once; a failure is remembered but later transforms still run.
func runStage(stage []transform.Transform, a *transform.Arrays) transform.Result {
	result := transform.OK
	for _, t := range stage {
		switch t.Apply(a) {
		case transform.Exclude:
			return transform.Exclude
		case transform.Fail:
			result = transform.Fail
		}
	}
	return result
}
