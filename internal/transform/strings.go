package transform

import (
	"regexp"
	"strings"

	"go-anomaly-pipeline/internal/model"
)

type concat struct {
	bound
	sep string
}

func newConcat(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	sep := ""
	if len(cfg.Arguments) > 0 {
		sep = cfg.Arguments[0]
	}
	return &concat{bound: bound{name: cfg.Transform, reads: reads, writes: writes}, sep: sep}, nil
}

func (t *concat) Apply(a *Arrays) Result {
	var sb strings.Builder
	for i, r := range t.reads {
		if i > 0 {
			sb.WriteString(t.sep)
		}
		sb.WriteString(a.Get(r))
	}
	a.Set(t.writes[0], sb.String())
	return OK
}

type caseOp int

const (
	caseLower caseOp = iota
	caseUpper
	caseTrim
)

type caseFold struct {
	bound
	op caseOp
}

func newCaseFold(op caseOp) factory {
	return func(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
		return &caseFold{bound: bound{name: cfg.Transform, reads: reads, writes: writes}, op: op}, nil
	}
}

func (t *caseFold) Apply(a *Arrays) Result {
	v := a.Get(t.reads[0])
	switch t.op {
	case caseLower:
		v = strings.ToLower(v)
	case caseUpper:
		v = strings.ToUpper(v)
	case caseTrim:
		v = strings.TrimSpace(v)
	}
	a.Set(t.writes[0], v)
	return OK
}

// extract writes the capture groups of the first match to the outputs in order
type extract struct {
	bound
	re *regexp.Regexp
}

func newExtract(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	re, err := compileArg(cfg)
	if err != nil {
		return nil, err
	}
	return &extract{bound: bound{name: cfg.Transform, reads: reads, writes: writes}, re: re}, nil
}

func (t *extract) Apply(a *Arrays) Result {
	m := t.re.FindStringSubmatch(a.Get(t.reads[0]))
	if m == nil {
		return Fail
	}
	groups := m[1:]
	for i, w := range t.writes {
		if i < len(groups) {
			a.Set(w, groups[i])
		} else {
			a.Set(w, "")
		}
	}
	return OK
}

// split writes the pieces of its input, separated by the regex, to the
// outputs in order. Missing pieces are written as empty strings.
type split struct {
	bound
	re *regexp.Regexp
}

func newSplit(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	re, err := compileArg(cfg)
	if err != nil {
		return nil, err
	}
	return &split{bound: bound{name: cfg.Transform, reads: reads, writes: writes}, re: re}, nil
}

func (t *split) Apply(a *Arrays) Result {
	parts := t.re.Split(a.Get(t.reads[0]), -1)
	for i, w := range t.writes {
		if i < len(parts) {
			a.Set(w, parts[i])
		} else {
			a.Set(w, "")
		}
	}
	return OK
}
