package runner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/opnlabs/aero/pkg/artifacts"
	"github.com/opnlabs/aero/pkg/pipeline"
	"github.com/opnlabs/aero/pkg/utils"
)

const (
	workingDir       = "/app"
	dockerSocketPath = "/var/run/docker.sock"
)

// Options configures a docker session for the invocation.
type Options struct {
	BuildDir          string
	ArtifactsDir      string
	ShowImagePull     bool
	MountDockerSocket bool
	Username          string
	Password          string
	// StopGrace bounds how long a cancelled container gets to terminate.
	StopGrace time.Duration
}

// DockerSession runs step actions in containers through one docker client.
// The client is safe for concurrent API calls and all per-run state lives
// on the stack of Run, so concurrent steps never share mutable buffers.
type DockerSession struct {
	cli       *client.Client
	artifacts artifacts.Manager
	opts      Options
	workdir   string
	auth      string
}

// Open connects to the docker daemon and prepares the build and artifact
// directories. Failures to reach the daemon are wrapped in
// ErrBackendUnavailable so the caller can abort before any dispatch.
func Open(ctx context.Context, opts Options) (*DockerSession, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	wd, err := os.Getwd()
	if err != nil {
		cli.Close()
		return nil, err
	}

	if opts.BuildDir == "" {
		opts.BuildDir = ".aero"
	}
	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = ".artifacts"
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 10 * time.Second
	}
	if err := os.MkdirAll(opts.BuildDir, 0o755); err != nil {
		cli.Close()
		return nil, fmt.Errorf("unable to create build directory %s: %v", opts.BuildDir, err)
	}

	manager, err := artifacts.NewDockerManager(cli, opts.ArtifactsDir)
	if err != nil {
		cli.Close()
		return nil, err
	}

	auth := ""
	if opts.Username != "" {
		auth, err = encodeAuth(opts.Username, opts.Password)
		if err != nil {
			cli.Close()
			return nil, err
		}
	}

	return &DockerSession{
		cli:       cli,
		artifacts: manager,
		opts:      opts,
		workdir:   wd,
		auth:      auth,
	}, nil
}

// Close releases the docker client connection.
func (s *DockerSession) Close() error {
	return s.cli.Close()
}

// Run executes one step action: pull the image, stage the source directory,
// load declared input artifacts, run the script, stream and capture output,
// and publish declared outputs on success.
func (s *DockerSession) Run(ctx context.Context, step pipeline.Step) (*ExecResult, error) {
	name := slug.Make(step.Name + "-" + uuid.NewString())

	var stdout, stderr bytes.Buffer
	outw := io.Writer(&stdout)
	if step.Action.Stdout != nil {
		outw = io.MultiWriter(&stdout, step.Action.Stdout)
	}
	errw := io.Writer(&stderr)
	if step.Action.Stderr != nil {
		errw = io.MultiWriter(&stderr, step.Action.Stderr)
	}
	result := func(code int) *ExecResult {
		return &ExecResult{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}
	}

	if err := s.pullImage(ctx, step.Action.Image, outw); err != nil {
		return nil, fmt.Errorf("unable to pull image for %s: %v", step.Name, err)
	}

	srcDir := filepath.Join(s.opts.BuildDir, "src-"+name)
	if step.Action.Src != "" {
		if err := utils.TarCopy(filepath.Clean(step.Action.Src), srcDir, s.opts.BuildDir, s.opts.ArtifactsDir); err != nil {
			return nil, fmt.Errorf("unable to stage sources for %s: %v", step.Name, err)
		}
	} else if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create working directory for %s: %v", step.Name, err)
	}

	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: filepath.Join(s.workdir, srcDir),
			Target: workingDir,
		},
	}
	if s.opts.MountDockerSocket {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: dockerSocketPath,
			Target: dockerSocketPath,
		})
	}

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:      step.Action.Image,
		Env:        step.Action.Env,
		Entrypoint: step.Action.Entrypoint,
		Cmd:        []string{"/bin/sh", "-c", strings.Join(step.Action.Script, "\n")},
		WorkingDir: workingDir,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("unable to create container for %s: %v", step.Name, err)
	}
	defer s.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})

	if err := s.artifacts.Retrieve(ctx, resp.ID, step.Inputs); err != nil {
		return nil, fmt.Errorf("unable to load input artifacts for %s: %v", step.Name, err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("unable to start container for %s: %v", step.Name, err)
	}

	logs, err := s.cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to attach logs for %s: %v", step.Name, err)
	}
	defer logs.Close()

	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		stdcopy.StdCopy(outw, errw, logs)
	}()

	statusCh, errCh := s.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("error waiting for container of %s: %v", step.Name, err)
	case status := <-statusCh:
		<-logDone
		res := result(int(status.StatusCode))
		if status.StatusCode != 0 {
			return res, &ExecutionError{Step: step.Name, ExitCode: res.ExitCode}
		}
		keys, err := s.publishOutputs(ctx, resp.ID, step)
		if err != nil {
			return res, fmt.Errorf("unable to publish artifacts for %s: %v", step.Name, err)
		}
		res.Artifacts = keys
		return res, nil
	case <-ctx.Done():
		s.stop(resp.ID)
		<-logDone
		return result(-1), ctx.Err()
	}
}

// stop requests termination of a cancelled container, bounded by the grace
// period. It uses a fresh context because the run context is already
// cancelled.
func (s *DockerSession) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopGrace)
	defer cancel()
	grace := int(s.opts.StopGrace / time.Second)
	s.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
}

func (s *DockerSession) pullImage(ctx context.Context, image string, out io.Writer) error {
	reader, err := s.cli.ImagePull(ctx, image, types.ImagePullOptions{RegistryAuth: s.auth})
	if err != nil {
		return err
	}
	defer reader.Close()
	if s.opts.ShowImagePull {
		_, err = io.Copy(out, reader)
		return err
	}
	_, err = io.Copy(io.Discard, reader)
	return err
}

// publishOutputs copies each declared output out of the finished container.
// Every copy is bounded by the grace period so a hung transfer cannot keep
// the invocation alive past cancellation.
func (s *DockerSession) publishOutputs(ctx context.Context, containerID string, step pipeline.Step) ([]string, error) {
	keys := make([]string, 0, len(step.Outputs))
	for _, out := range step.Outputs {
		pctx, cancel := context.WithTimeout(ctx, s.opts.StopGrace)
		err := s.artifacts.Publish(pctx, containerID, out, filepath.Join(workingDir, out))
		cancel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, out)
	}
	return keys, nil
}

func encodeAuth(username, password string) (string, error) {
	buf, err := json.Marshal(types.AuthConfig{
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("unable to encode registry credentials: %v", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
