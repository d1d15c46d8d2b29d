// Package pipeline composes sanitization and in-container execution into
// execution records. By the time results reach the session registry,
// failures are data, not errors: every run produces a well-formed record.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replbox/replbox/internal/domain"
	"github.com/replbox/replbox/internal/language"
	"github.com/replbox/replbox/internal/runtime"
	"github.com/replbox/replbox/internal/sanitize"
)

// Pipeline runs sanitized code in a session's bound container.
type Pipeline struct {
	sanitizer *sanitize.Sanitizer
	rt        runtime.Runtime
}

// New creates an execution pipeline.
func New(sanitizer *sanitize.Sanitizer, rt runtime.Runtime) *Pipeline {
	return &Pipeline{sanitizer: sanitizer, rt: rt}
}

// Run sanitizes code, prepends the session's advisory variable preamble,
// executes inside the bound container, and packages the outcome. The
// returned record is always populated; err is non-nil only when the
// sandbox itself failed (not when the submitted code did), in which case
// the record carries the failure as its Error text. Captured variable
// assignments from a clean run are returned for the registry to merge.
func (p *Pipeline) Run(ctx context.Context, lang language.Language, containerID, sessionID, code string, vars map[string]string, timeout time.Duration) (domain.ExecutionRecord, map[string]string, error) {
	started := time.Now()
	rec := domain.ExecutionRecord{
		ID:         uuid.NewString(),
		Code:       code,
		ExecutedAt: started,
	}

	cleaned := p.sanitizer.Clean(code, lang.ID, lang.CommentPrefix)
	source := lang.AssignmentPreamble(vars) + cleaned

	out, err := p.rt.Exec(ctx, lang, containerID, source, timeout)
	rec.Duration = time.Since(started)

	switch {
	case errors.Is(err, runtime.ErrExecTimeout):
		// Cooperative timeout: the process may still be running in the
		// container, but the caller is done waiting. Not a sandbox fault.
		rec.Error = err.Error()
		slog.Info("Execution timed out",
			"session_id", sessionID,
			"container_id", containerID,
			"timeout", timeout,
		)
		return rec, nil, nil
	case err != nil:
		rec.Error = err.Error()
		slog.Error("Execution failed in sandbox",
			"session_id", sessionID,
			"container_id", containerID,
			"error", err,
		)
		return rec, nil, err
	}

	rec.Output = out.Stdout
	if out.ExitCode != 0 {
		rec.Error = out.Stderr
		if rec.Error == "" {
			rec.Error = "process exited with non-zero status"
		}
		return rec, nil, nil
	}

	// Only clean runs feed the advisory variable snapshot, and capture
	// reads the sanitized source: a redacted line must never enter the
	// snapshot, or its replayed preamble would reach the sandbox on every
	// later submission.
	return rec, lang.CaptureAssignments(cleaned), nil
}
