// Package models defines the YAML pipeline-file format and its translation
// into executable pipeline steps.
package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opnlabs/aero/pkg/pipeline"
)

// Variable is a single KEY: VALUE environment entry.
type Variable map[string]string

// Duration wraps time.Duration with YAML decoding from strings like "2s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(v)
	return nil
}

type RetrySpec struct {
	Attempts int      `yaml:"attempts" validate:"gte=1,lte=10"`
	Backoff  Duration `yaml:"backoff"`
}

type StepSpec struct {
	Name       string     `yaml:"name" validate:"required"`
	Image      string     `yaml:"image" validate:"required"`
	Src        string     `yaml:"src"`
	Needs      []string   `yaml:"needs"`
	Inputs     []string   `yaml:"inputs"`
	Outputs    []string   `yaml:"outputs"`
	Script     []string   `yaml:"script"`
	Entrypoint []string   `yaml:"entrypoint"`
	Variables  []Variable `yaml:"variables"`
	Retry      *RetrySpec `yaml:"retry"`
}

type PipelineFile struct {
	Pipeline string     `yaml:"pipeline" validate:"required"`
	Steps    []StepSpec `yaml:"steps" validate:"required,min=1,dive"`
}

// Compile translates the file into pipeline steps, appending the invocation
// level variables to every step's environment.
func (f *PipelineFile) Compile(global []Variable) ([]pipeline.Step, error) {
	steps := make([]pipeline.Step, 0, len(f.Steps))
	for _, spec := range f.Steps {
		env, err := flattenVariables(append(spec.Variables, global...))
		if err != nil {
			return nil, fmt.Errorf("step %s: %v", spec.Name, err)
		}

		step := pipeline.Step{
			Name:    spec.Name,
			Needs:   spec.Needs,
			Inputs:  spec.Inputs,
			Outputs: spec.Outputs,
			Action: pipeline.Action{
				Image:      spec.Image,
				Src:        spec.Src,
				Script:     spec.Script,
				Entrypoint: spec.Entrypoint,
				Env:        env,
			},
		}
		if spec.Retry != nil {
			step.Retry = pipeline.RetryPolicy{
				Attempts: spec.Retry.Attempts,
				Backoff:  time.Duration(spec.Retry.Backoff),
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func flattenVariables(vars []Variable) ([]string, error) {
	env := make([]string, 0, len(vars))
	for _, v := range vars {
		if len(v) != 1 {
			return nil, fmt.Errorf("variables should be defined as a single key value pair")
		}
		for k, val := range v {
			env = append(env, fmt.Sprintf("%s=%s", k, val))
		}
	}
	return env, nil
}
