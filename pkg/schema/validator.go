// Package schema validates pipeline files against the embedded JSON
// schema before they are decoded into structs.
package schema

import (
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.schema.json
var pipelineSchema string

var compiled = jsonschema.MustCompileString("pipeline.schema.json", pipelineSchema)

// ValidatePipeline checks raw pipeline file contents against the schema.
func ValidatePipeline(contents []byte) error {
	var doc any
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return fmt.Errorf("unable to parse pipeline file: %v", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("pipeline file does not match schema: %v", err)
	}
	return nil
}
