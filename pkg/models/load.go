package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/aero/pkg/schema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a pipeline file, checks it against the pipeline schema, and
// decodes and validates it. Schema validation runs first so malformed files
// fail with a field-level message instead of a decode error.
func Load(path string) (*PipelineFile, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("unable to read pipeline file: %v", err)
	}
	return Parse(contents)
}

// Parse decodes and validates pipeline file contents.
func Parse(contents []byte) (*PipelineFile, error) {
	if err := schema.ValidatePipeline(contents); err != nil {
		return nil, err
	}

	var f PipelineFile
	if err := yaml.Unmarshal(contents, &f); err != nil {
		return nil, fmt.Errorf("unable to parse pipeline file: %v", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid pipeline file: %v", err)
	}
	return &f, nil
}
