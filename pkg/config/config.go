// Package config resolves invocation settings from an optional settings
// file, environment overrides, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/aero/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Settings carries the validated, read-only configuration attached to the
// execution context. Registry credentials come only from the environment or
// flags, never from the settings file.
type Settings struct {
	Concurrency       int             `yaml:"concurrency" validate:"gte=1,lte=64"`
	FailurePolicy     string          `yaml:"failure_policy" validate:"oneof=fail-fast continue"`
	BuildDir          string          `yaml:"build_dir" validate:"required"`
	ArtifactsDir      string          `yaml:"artifacts_dir" validate:"required"`
	StopGrace         models.Duration `yaml:"stop_grace"`
	ShowImagePull     bool            `yaml:"show_image_pull"`
	MountDockerSocket bool            `yaml:"mount_docker_socket"`
	RegistryUsername  string          `yaml:"-"`
	RegistryPassword  string          `yaml:"-"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Concurrency:   4,
		FailurePolicy: "fail-fast",
		BuildDir:      ".aero",
		ArtifactsDir:  ".artifacts",
		StopGrace:     models.Duration(10 * time.Second),
		ShowImagePull: true,
	}
}

// Load resolves settings: defaults, then the settings file if path is not
// empty, then AERO_* environment variables, validated at the end.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		contents, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return s, fmt.Errorf("unable to read settings file: %v", err)
		}
		if err := yaml.Unmarshal(contents, &s); err != nil {
			return s, fmt.Errorf("unable to parse settings file: %v", err)
		}
	}

	if v := os.Getenv("AERO_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid AERO_CONCURRENCY value %q", v)
		}
		s.Concurrency = n
	}
	if v := os.Getenv("AERO_FAILURE_POLICY"); v != "" {
		s.FailurePolicy = v
	}
	if v := os.Getenv("AERO_BUILD_DIR"); v != "" {
		s.BuildDir = v
	}
	if v := os.Getenv("AERO_ARTIFACTS_DIR"); v != "" {
		s.ArtifactsDir = v
	}
	if v := os.Getenv("AERO_STOP_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("invalid AERO_STOP_GRACE value %q", v)
		}
		s.StopGrace = models.Duration(d)
	}
	if v := os.Getenv("AERO_SHOW_IMAGE_PULL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("invalid AERO_SHOW_IMAGE_PULL value %q", v)
		}
		s.ShowImagePull = b
	}
	if v := os.Getenv("AERO_MOUNT_DOCKER_SOCKET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("invalid AERO_MOUNT_DOCKER_SOCKET value %q", v)
		}
		s.MountDockerSocket = b
	}
	if v := os.Getenv("AERO_REGISTRY_USERNAME"); v != "" {
		s.RegistryUsername = v
	}
	if v := os.Getenv("AERO_REGISTRY_PASSWORD"); v != "" {
		s.RegistryPassword = v
	}

	if err := validate.Struct(&s); err != nil {
		return s, fmt.Errorf("invalid settings: %v", err)
	}
	return s, nil
}
