package transform

import (
	"fmt"
	"regexp"

	"go-anomaly-pipeline/internal/model"
)

// Kind is the closed set of transform operations
type Kind int

const (
	KindUnknown Kind = iota
	KindConcat
	KindExtract
	KindSplit
	KindLowercase
	KindUppercase
	KindTrim
	KindDomainSplit
	KindExclude
)

// unbounded marks an arity with no upper limit
const unbounded = -1

type factory func(cfg model.TransformConfig, reads, writes []Index) (Transform, error)

type kindSpec struct {
	name           string
	minInputs      int
	maxInputs      int
	minArgs        int
	maxArgs        int
	defaultOutputs []string
	minOutputs     int
	maxOutputs     int
	newTransform   factory
}

var kinds = map[Kind]kindSpec{
	KindConcat: {
		name: "concat", minInputs: 1, maxInputs: unbounded, maxArgs: 1,
		defaultOutputs: []string{"concat"}, minOutputs: 1, maxOutputs: 1,
		newTransform: newConcat,
	},
	KindExtract: {
		name: "extract", minInputs: 1, maxInputs: 1, minArgs: 1, maxArgs: 1,
		minOutputs: 1, maxOutputs: unbounded,
		newTransform: newExtract,
	},
	KindSplit: {
		name: "split", minInputs: 1, maxInputs: 1, minArgs: 1, maxArgs: 1,
		minOutputs: 1, maxOutputs: unbounded,
		newTransform: newSplit,
	},
	KindLowercase: {
		name: "lowercase", minInputs: 1, maxInputs: 1,
		defaultOutputs: []string{"lowercase"}, minOutputs: 1, maxOutputs: 1,
		newTransform: newCaseFold(caseLower),
	},
	KindUppercase: {
		name: "uppercase", minInputs: 1, maxInputs: 1,
		defaultOutputs: []string{"uppercase"}, minOutputs: 1, maxOutputs: 1,
		newTransform: newCaseFold(caseUpper),
	},
	KindTrim: {
		name: "trim", minInputs: 1, maxInputs: 1,
		defaultOutputs: []string{"trim"}, minOutputs: 1, maxOutputs: 1,
		newTransform: newCaseFold(caseTrim),
	},
	KindDomainSplit: {
		name: "domain_split", minInputs: 1, maxInputs: 1,
		defaultOutputs: []string{"subDomain", "hrd"}, minOutputs: 2, maxOutputs: 2,
		newTransform: newDomainSplit,
	},
	KindExclude: {
		name: "exclude", minInputs: 1, maxInputs: 1,
		newTransform: newExclude,
	},
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kinds))
	for k, spec := range kinds {
		m[spec.name] = k
	}
	return m
}()

// ParseKind resolves a transform name to its Kind
func ParseKind(name string) (Kind, error) {
	k, ok := kindsByName[name]
	if !ok {
		return KindUnknown, fmt.Errorf("unknown transform type %q", name)
	}
	return k, nil
}

func (k Kind) String() string {
	if spec, ok := kinds[k]; ok {
		return spec.name
	}
	return "unknown"
}

// Outputs returns the configured outputs of cfg, or the defaults of its kind
// when none are configured.
func Outputs(cfg model.TransformConfig) []string {
	if len(cfg.Outputs) > 0 {
		return cfg.Outputs
	}
	k, err := ParseKind(cfg.Transform)
	if err != nil {
		return nil
	}
	return kinds[k].defaultOutputs
}

// New binds cfg to the given read and write indexes
func New(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	k, err := ParseKind(cfg.Transform)
	if err != nil {
		return nil, err
	}
	return kinds[k].newTransform(cfg, reads, writes)
}

func compileArg(cfg model.TransformConfig) (*regexp.Regexp, error) {
	if len(cfg.Arguments) == 0 {
		return nil, fmt.Errorf("transform %s requires a regex argument", cfg.Transform)
	}
	re, err := regexp.Compile(cfg.Arguments[0])
	if err != nil {
		return nil, fmt.Errorf("transform %s: invalid regex %q: %w", cfg.Transform, cfg.Arguments[0], err)
	}
	return re, nil
}
