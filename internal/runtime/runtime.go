// Package runtime provides Docker container management for sandbox sessions.
// It is the only package that speaks to the container engine.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/replbox/replbox/internal/language"
)

// ErrExecTimeout is returned when draining exec output exceeds the
// execution timeout. The in-container process may still be running; the
// timeout bounds how long we wait, not how long the process lives.
var ErrExecTimeout = errors.New("execution timed out")

// ErrContainerCreation wraps engine failures while creating or starting
// a session container.
var ErrContainerCreation = errors.New("container creation failed")

// ExecOutput is the demultiplexed result of one in-container exec.
type ExecOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Info describes one labeled sandbox container as reported by the engine.
type Info struct {
	ID        string
	SessionID string
	Language  string
	CreatedAt time.Time
}

// Runtime defines the engine operations the session layer depends on.
type Runtime interface {
	// CreateContainer creates and starts an isolated container for a
	// session and returns its engine-assigned id.
	CreateContainer(ctx context.Context, lang language.Language, sessionID string) (string, error)

	// Exec runs the language's interpreter with the given inline source
	// inside an already-running container, demultiplexes stdout/stderr,
	// and gives up waiting once timeout elapses.
	Exec(ctx context.Context, lang language.Language, containerID, code string, timeout time.Duration) (ExecOutput, error)

	// DestroyContainer kills and removes a container. Best-effort:
	// failures are logged, never returned.
	DestroyContainer(ctx context.Context, containerID string)

	// ListContainers returns containers carrying the session-tracking label.
	ListContainers(ctx context.Context) ([]Info, error)

	// CleanupContainers destroys labeled containers older than maxAge and
	// returns how many were reclaimed.
	CleanupContainers(ctx context.Context, maxAge time.Duration) int
}
