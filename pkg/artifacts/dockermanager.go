// Package artifacts moves named artifacts between step containers through
// the docker copy API, staging them as tar archives on the host.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/opnlabs/aero/pkg/store"
)

// Manager transfers artifacts in and out of step containers.
type Manager interface {
	// Publish copies the artifact at path out of the container and records
	// it under name so dependent steps can retrieve it.
	Publish(ctx context.Context, containerID, name, path string) error

	// Retrieve copies the named artifacts into the container, restoring
	// each at the directory it was originally published from. Unknown
	// names fail: the graph guarantees a dependency published them first.
	Retrieve(ctx context.Context, containerID string, names []string) error
}

// DockerManager implements Manager on a shared docker client. Safe for
// concurrent use: the record store serializes access and each transfer
// works on its own file handle.
type DockerManager struct {
	cli     *client.Client
	records store.Store
	dir     string
}

// NewDockerManager clears any artifacts from a previous invocation and
// recreates the staging directory.
func NewDockerManager(cli *client.Client, dir string) (*DockerManager, error) {
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("could not remove %s directory: %v", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create %s directory: %v", dir, err)
	}

	return &DockerManager{
		cli:     cli,
		records: store.NewMemStore(),
		dir:     dir,
	}, nil
}

func (d *DockerManager) Publish(ctx context.Context, containerID, name, path string) error {
	r, _, err := d.cli.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return fmt.Errorf("could not copy artifact %s from container %s: %v", path, containerID, err)
	}
	defer r.Close()

	tarPath := filepath.Join(d.dir, fmt.Sprintf("%s-%s.tar", name, uuid.NewString()))
	f, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("could not create artifact tar file: %v", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("could not copy artifact %s from container %s to tar: %v", name, containerID, err)
	}

	return d.records.Set(name, store.Record{
		TarPath:     tarPath,
		OriginalDir: filepath.Dir(path),
	})
}

func (d *DockerManager) Retrieve(ctx context.Context, containerID string, names []string) error {
	for _, name := range names {
		rec, err := d.records.Get(name)
		if err != nil {
			return fmt.Errorf("could not find artifact %s: %v", name, err)
		}

		f, err := os.Open(rec.TarPath)
		if err != nil {
			return fmt.Errorf("could not open artifact %s: %v", name, err)
		}

		err = d.cli.CopyToContainer(ctx, containerID, rec.OriginalDir, f, types.CopyToContainerOptions{})
		f.Close()
		if err != nil {
			return fmt.Errorf("could not copy artifact %s to container %s: %v", name, containerID, err)
		}
	}
	return nil
}
