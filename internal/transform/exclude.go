package transform

import (
	"fmt"
	"regexp"
	"strconv"

	"go-anomaly-pipeline/internal/model"
)

// exclude drops a record when its condition holds for the input value
type exclude struct {
	bound
	cond *condition
}

func newExclude(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	if cfg.Condition == nil {
		return nil, fmt.Errorf("transform exclude requires a condition")
	}
	cond, err := compileCondition(*cfg.Condition)
	if err != nil {
		return nil, err
	}
	return &exclude{bound: bound{name: cfg.Transform, reads: reads, writes: writes}, cond: cond}, nil
}

func (t *exclude) Apply(a *Arrays) Result {
	if t.cond.matches(a.Get(t.reads[0])) {
		return Exclude
	}
	return OK
}

type condition struct {
	op      model.Operator
	raw     string
	num     float64
	numeric bool
	re      *regexp.Regexp
}

func compileCondition(c model.Condition) (*condition, error) {
	out := &condition{op: c.Operator, raw: c.Value}
	switch c.Operator {
	case model.OpMatch:
		re, err := regexp.Compile("^(?:" + c.Value + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid condition regex %q: %w", c.Value, err)
		}
		out.re = re
	case model.OpEq:
		if f, err := strconv.ParseFloat(c.Value, 64); err == nil {
			out.num, out.numeric = f, true
		}
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		f, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("condition %s requires a numeric value, got %q", c.Operator, c.Value)
		}
		out.num, out.numeric = f, true
	default:
		return nil, fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	return out, nil
}

func (c *condition) matches(v string) bool {
	if c.op == model.OpMatch {
		return c.re.MatchString(v)
	}
	if c.op == model.OpEq && !c.numeric {
		return v == c.raw
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	switch c.op {
	case model.OpEq:
		return f == c.num
	case model.OpGt:
		return f > c.num
	case model.OpGte:
		return f >= c.num
	case model.OpLt:
		return f < c.num
	case model.OpLte:
		return f <= c.num
	}
	return false
}
