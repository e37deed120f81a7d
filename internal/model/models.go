package model

// Operator compares a field value against a condition value
type Operator string

const (
	OpEq    Operator = "eq"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpMatch Operator = "match"
)

// Condition is an optional predicate attached to a transform (used by exclude)
type Condition struct {
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// TransformConfig declares one transform. Outputs may be empty, in which case
// the transform kind supplies its default output names.
type TransformConfig struct {
	Transform string     `json:"transform" yaml:"transform"`
	Inputs    []string   `json:"inputs" yaml:"inputs"`
	Outputs   []string   `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Arguments []string   `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}
