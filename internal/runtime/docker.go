package runtime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/replbox/replbox/internal/language"
)

const (
	// Labels used to discover sandbox containers independently of
	// in-process bookkeeping.
	sessionLabel  = "replbox.session"
	languageLabel = "replbox.language"

	scratchDir = "/tmp"

	// Resource limits.
	memoryLimitBytes = 128 * 1024 * 1024 // 128MiB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 128
	tmpfsOptions     = "rw,nosuid,size=64m"

	// Output capture.
	maxOutputBytes   = 10 * 1024
	truncationMarker = "\n... [output truncated]"
)

// Docker implements Runtime using the Docker Engine API.
type Docker struct {
	cli *client.Client
}

// NewDocker creates a Docker-backed runtime from the environment.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized")
	return &Docker{cli: cli}, nil
}

// Client returns the underlying Docker client.
func (d *Docker) Client() *client.Client {
	return d.cli
}

// CreateContainer creates and starts an isolated container for a session.
// No network, read-only root, size-capped writable scratch, explicit
// memory and CPU ceilings.
func (d *Docker) CreateContainer(ctx context.Context, lang language.Language, sessionID string) (string, error) {
	containerName := containerName(sessionID)

	config := &container.Config{
		Image:           lang.Image,
		Cmd:             []string{"sleep", "infinity"},
		WorkingDir:      scratchDir,
		NetworkDisabled: true,
		Labels: map[string]string{
			sessionLabel:  sessionID,
			languageLabel: lang.ID,
		},
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			scratchDir: tmpfsOptions,
		},
		Resources: container.Resources{
			Memory:     memoryLimitBytes,
			MemorySwap: memoryLimitBytes, // no swap
			CPUQuota:   cpuQuota,
			PidsLimit:  ptr(int64(pidsLimit)),
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("%w: create %s for session %s: %v", ErrContainerCreation, lang.Image, sessionID, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errdefs.IsNotFound(removeErr) {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("%w: start %s for session %s: %v", ErrContainerCreation, resp.ID, sessionID, err)
	}

	slog.Info("Container created and started",
		"container_id", resp.ID,
		"session_id", sessionID,
		"language", lang.ID,
	)
	return resp.ID, nil
}

// Exec runs the language's interpreter with inline source inside the
// container. Draining the output stream races against the timeout: if the
// timeout wins, the pending read is abandoned and ErrExecTimeout is
// returned. The in-container process is not killed; it runs until the
// container is destroyed.
func (d *Docker) Exec(ctx context.Context, lang language.Language, containerID, code string, timeout time.Duration) (ExecOutput, error) {
	execConfig := container.ExecOptions{
		Cmd:          lang.BuildCommand(code),
		WorkingDir:   scratchDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecOutput{}, fmt.Errorf("attach exec %s: %w", execResp.ID, err)
	}

	type drainResult struct {
		stdout bytes.Buffer
		stderr bytes.Buffer
		err    error
	}
	done := make(chan *drainResult, 1)
	go func() {
		defer attachResp.Close()
		res := &drainResult{}
		_, res.err = stdcopy.StdCopy(&res.stdout, &res.stderr, attachResp.Reader)
		done <- res
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var drained *drainResult
	select {
	case drained = <-done:
	case <-timer.C:
		return ExecOutput{}, fmt.Errorf("%w after %s in container %s", ErrExecTimeout, timeout, containerID)
	case <-ctx.Done():
		return ExecOutput{}, fmt.Errorf("exec in container %s: %w", containerID, ctx.Err())
	}
	if drained.err != nil {
		return ExecOutput{}, fmt.Errorf("read exec output from container %s: %w", containerID, drained.err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("inspect exec %s: %w", execResp.ID, err)
	}

	return ExecOutput{
		Stdout:   truncate(drained.stdout.String()),
		Stderr:   truncate(drained.stderr.String()),
		ExitCode: inspect.ExitCode,
	}, nil
}

// DestroyContainer kills and removes a container. Best-effort: teardown
// must never block session cleanup on a stuck container.
func (d *Docker) DestroyContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}

	if err := d.cli.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already gone", "container_id", containerID)
			return
		}
		// May already be stopped; removal below still applies.
		slog.Debug("Container kill returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Container already removed", "container_id", containerID)
			return
		}
		slog.Warn("Failed to remove container", "container_id", containerID, "error", err)
		return
	}

	slog.Info("Container destroyed", "container_id", containerID)
}

// ListContainers returns all containers carrying the session label.
func (d *Docker) ListContainers(ctx context.Context) ([]Info, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", sessionLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("list sandbox containers: %w", err)
	}

	infos := make([]Info, 0, len(list))
	for _, c := range list {
		infos = append(infos, Info{
			ID:        c.ID,
			SessionID: c.Labels[sessionLabel],
			Language:  c.Labels[languageLabel],
			CreatedAt: time.Unix(c.Created, 0),
		})
	}
	return infos, nil
}

// CleanupContainers destroys labeled containers older than maxAge. This
// sweep covers containers whose registry entry was lost, including ones
// left behind by a previous process.
func (d *Docker) CleanupContainers(ctx context.Context, maxAge time.Duration) int {
	infos, err := d.ListContainers(ctx)
	if err != nil {
		slog.Error("Container sweep failed to list containers", "error", err)
		return 0
	}

	reclaimed := 0
	for _, info := range infos {
		age := time.Since(info.CreatedAt)
		if age <= maxAge {
			continue
		}
		slog.Info("Sweeping aged container",
			"container_id", info.ID,
			"session_id", info.SessionID,
			"age", age,
		)
		d.DestroyContainer(ctx, info.ID)
		reclaimed++
	}
	return reclaimed
}

func containerName(sessionID string) string {
	return "replbox-" + sessionID
}

// truncate caps captured output at maxOutputBytes with a visible marker.
// The cut backs off to the previous rune boundary so the kept prefix is
// always valid UTF-8.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func ptr[T any](v T) *T {
	return &v
}
