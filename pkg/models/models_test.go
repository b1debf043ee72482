package models

import (
	"strings"
	"testing"
	"time"
)

const samplePipeline = `
pipeline: component-release
steps:
  - name: build
    image: golang:1.21
    src: .
    script:
      - go build ./...
    outputs:
      - bin
  - name: test
    image: golang:1.21
    src: .
    needs: [build]
    inputs: [bin]
    script:
      - go test ./...
    retry:
      attempts: 2
      backoff: 2s
    variables:
      - GOFLAGS: -count=1
  - name: publish
    image: docker.io/alpine
    needs: [test]
    script:
      - ./release.sh
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	if f.Pipeline != "component-release" {
		t.Errorf("unexpected pipeline name %q", f.Pipeline)
	}
	if len(f.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(f.Steps))
	}

	test := f.Steps[1]
	if test.Retry == nil || test.Retry.Attempts != 2 {
		t.Error("retry spec not decoded")
	}
	if test.Retry.Backoff.Std() != 2*time.Second {
		t.Errorf("backoff not parsed, got %v", test.Retry.Backoff.Std())
	}
	if len(test.Needs) != 1 || test.Needs[0] != "build" {
		t.Errorf("needs not decoded: %v", test.Needs)
	}
}

func TestParseRejectsMissingImage(t *testing.T) {
	contents := `
pipeline: broken
steps:
  - name: build
    script: ["make"]
`
	if _, err := Parse([]byte(contents)); err == nil {
		t.Error("step without image should be rejected")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	contents := `
pipeline: broken
steps:
  - name: build
    image: alpine
    stage: compile
`
	_, err := Parse([]byte(contents))
	if err == nil {
		t.Fatal("unknown field should be rejected by the schema")
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Errorf("expected a schema error, got: %v", err)
	}
}

func TestParseRejectsBadBackoff(t *testing.T) {
	contents := `
pipeline: broken
steps:
  - name: build
    image: alpine
    retry:
      attempts: 2
      backoff: soonish
`
	if _, err := Parse([]byte(contents)); err == nil {
		t.Error("unparseable backoff should be rejected")
	}
}

func TestCompile(t *testing.T) {
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	steps, err := f.Compile([]Variable{{"CI": "true"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}

	test := steps[1]
	if test.Retry.Attempts != 2 || test.Retry.Backoff != 2*time.Second {
		t.Errorf("retry policy not carried over: %+v", test.Retry)
	}

	foundStep, foundGlobal := false, false
	for _, e := range test.Action.Env {
		if e == "GOFLAGS=-count=1" {
			foundStep = true
		}
		if e == "CI=true" {
			foundGlobal = true
		}
	}
	if !foundStep || !foundGlobal {
		t.Errorf("step and global variables should both be present: %v", test.Action.Env)
	}
}

func TestCompileRejectsMultiKeyVariable(t *testing.T) {
	f := &PipelineFile{
		Pipeline: "broken",
		Steps: []StepSpec{{
			Name:      "build",
			Image:     "alpine",
			Variables: []Variable{{"A": "1", "B": "2"}},
		}},
	}
	if _, err := f.Compile(nil); err == nil {
		t.Error("variables with more than one key should be rejected")
	}
}
