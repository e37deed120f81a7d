package transform

import (
	"fmt"

	"go-anomaly-pipeline/internal/model"
)

// ControlField is the name of the trailing control column of every frame
const ControlField = "."

// Verify checks each transform config on its own and the set as a whole
func Verify(configs []model.TransformConfig) error {
	seen := make(map[string]int)
	for i, cfg := range configs {
		if err := verifyOne(cfg); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
		for _, out := range Outputs(cfg) {
			if prev, ok := seen[out]; ok {
				return fmt.Errorf("transform %d: output %q already produced by transform %d", i, out, prev)
			}
			seen[out] = i
		}
	}
	return nil
}

func verifyOne(cfg model.TransformConfig) error {
	k, err := ParseKind(cfg.Transform)
	if err != nil {
		return err
	}
	spec := kinds[k]

	if err := arity("inputs", len(cfg.Inputs), spec.minInputs, spec.maxInputs); err != nil {
		return fmt.Errorf("%s: %w", spec.name, err)
	}
	if err := arity("arguments", len(cfg.Arguments), spec.minArgs, spec.maxArgs); err != nil {
		return fmt.Errorf("%s: %w", spec.name, err)
	}
	if err := arity("outputs", len(Outputs(cfg)), spec.minOutputs, spec.maxOutputs); err != nil {
		return fmt.Errorf("%s: %w", spec.name, err)
	}

	for _, in := range cfg.Inputs {
		if in == "" {
			return fmt.Errorf("%s: empty input name", spec.name)
		}
	}
	for _, out := range Outputs(cfg) {
		if out == "" {
			return fmt.Errorf("%s: empty output name", spec.name)
		}
		if out == ControlField {
			return fmt.Errorf("%s: output may not be named %q", spec.name, ControlField)
		}
	}

	// Binding to placeholder indexes compiles regexes and conditions.
	reads := make([]Index, len(cfg.Inputs))
	writes := make([]Index, len(Outputs(cfg)))
	if _, err := spec.newTransform(cfg, reads, writes); err != nil {
		return err
	}
	return nil
}

func arity(what string, n, lo, hi int) error {
	if n < lo {
		return fmt.Errorf("requires at least %d %s, got %d", lo, what, n)
	}
	if hi != unbounded && n > hi {
		return fmt.Errorf("accepts at most %d %s, got %d", hi, what, n)
	}
	return nil
}
