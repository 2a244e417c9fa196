package workcell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerSandbox runs a single adapter command inside a container instead of
// directly on the host, bind-mounting the workcell path at /workspace. This
// is the optional isolation backend for toolchains that need a stronger
// boundary than a bare git worktree (untrusted adapters, CI parity).
type DockerSandbox struct {
	mu    sync.Mutex
	cli   *client.Client
	image string
}

func NewDockerSandbox(image string) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("workcell: failed to initialize docker client: %w", err)
	}
	if image == "" {
		image = "cyntra-workcell:latest"
	}
	return &DockerSandbox{cli: cli, image: image}, nil
}

// Run creates, starts, waits on, and removes a container executing cmd with
// the workcell path bind-mounted at /workspace, returning its stdout and
// stderr separately along with the exit code.
func (d *DockerSandbox) Run(ctx context.Context, workcellPath string, cmd []string, env []string) (stdout, stderr string, exitCode int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	absPath, absErr := filepath.Abs(workcellPath)
	if absErr != nil {
		return "", "", -1, fmt.Errorf("workcell: failed to resolve sandbox path: %w", absErr)
	}

	containerCfg := &container.Config{
		Image:      d.image,
		Cmd:        cmd,
		Tty:        false,
		WorkingDir: "/workspace",
		Env:        env,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: absPath, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	name := fmt.Sprintf("cyntra-sandbox-%d", time.Now().UnixNano())
	resp, createErr := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if createErr != nil {
		return "", "", -1, fmt.Errorf("workcell: failed to create sandbox container: %w", createErr)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	if startErr := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); startErr != nil {
		return "", "", -1, fmt.Errorf("workcell: failed to start sandbox container: %w", startErr)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			return "", "", -1, fmt.Errorf("workcell: sandbox container wait failed: %w", waitErr)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return "", "", -1, ctx.Err()
	}

	logs, logsErr := d.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if logsErr != nil {
		return "", "", exitCode, fmt.Errorf("workcell: failed to fetch sandbox logs: %w", logsErr)
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	if _, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, logs); copyErr != nil && copyErr != io.EOF {
		return "", "", exitCode, fmt.Errorf("workcell: failed to demux sandbox logs: %w", copyErr)
	}
	return outBuf.String(), errBuf.String(), exitCode, nil
}

// Available reports whether a Docker daemon is reachable.
func (d *DockerSandbox) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := d.cli.Ping(ctx)
	return err == nil
}

// PruneIdleSandboxes removes stopped cyntra-sandbox-* containers left
// behind by a crashed kernel process. Nothing in the kernel calls it
// automatically.
func (d *DockerSandbox) PruneIdleSandboxes(ctx context.Context) (int, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, c := range containers {
		for _, n := range c.Names {
			if len(n) > len("/cyntra-sandbox-") && n[:len("/cyntra-sandbox-")] == "/cyntra-sandbox-" && c.State != "running" {
				if rmErr := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); rmErr == nil {
					pruned++
				}
			}
		}
	}
	return pruned, nil
}
