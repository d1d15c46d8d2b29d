// Package session implements the sandboxed execution session registry: the
// sole authority over session existence, state transitions, and eviction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/replbox/replbox/internal/domain"
	"github.com/replbox/replbox/internal/language"
	"github.com/replbox/replbox/internal/pipeline"
	"github.com/replbox/replbox/internal/runtime"
	"github.com/replbox/replbox/internal/store"
)

// state wraps a session with its serialization lock. The per-session
// mutex is held across container I/O so that execute, reset, and delete
// on one id never interleave; the registry map lock is only ever held
// for bookkeeping.
type state struct {
	mu   sync.Mutex
	sess *domain.Session
}

// Registry owns the in-memory session map. All access goes through its
// methods; the backing map is never exposed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*state

	languages   *language.Registry
	rt          runtime.Runtime
	pipe        *pipeline.Pipeline
	audit       store.AuditLog // optional
	ttl         time.Duration
	execTimeout time.Duration

	now func() time.Time
}

// NewRegistry creates a session registry. audit may be nil.
func NewRegistry(languages *language.Registry, rt runtime.Runtime, pipe *pipeline.Pipeline, audit store.AuditLog, ttl, execTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*state),
		languages:   languages,
		rt:          rt,
		pipe:        pipe,
		audit:       audit,
		ttl:         ttl,
		execTimeout: execTimeout,
		now:         time.Now,
	}
}

// Create validates the language, registers a new session, and binds a
// freshly started container to it. On container failure the session is
// rolled back: no partial session is ever left registered.
func (r *Registry) Create(ctx context.Context, languageID string) (string, error) {
	lang, err := r.languages.Get(languageID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, languageID)
	}

	id, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}

	now := r.now()
	st := &state{sess: &domain.Session{
		ID:           id,
		Language:     lang.ID,
		CreatedAt:    now,
		LastActivity: now,
		Variables:    make(map[string]string),
	}}

	// Hold the session lock across container creation so a concurrent
	// delete on the new id waits for the binding to settle.
	st.mu.Lock()
	defer st.mu.Unlock()

	r.mu.Lock()
	r.sessions[id] = st
	r.mu.Unlock()

	containerID, err := r.rt.CreateContainer(ctx, lang, id)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		slog.Error("Session creation rolled back", "session_id", id, "language", lang.ID, "error", err)
		return "", fmt.Errorf("%w: session %s: %v", ErrSessionCreation, id, err)
	}
	st.sess.ContainerID = containerID

	slog.Info("Session created", "session_id", id, "language", lang.ID, "container_id", containerID)
	return id, nil
}

// Execute runs code inside the session's bound container and records the
// outcome. A failed run keeps the session alive: last-activity is bumped
// and the record appended regardless.
func (r *Registry) Execute(ctx context.Context, id, code string) (domain.ExecutionRecord, error) {
	st, err := r.lookup(id)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := r.checkExpiryLocked(ctx, st); err != nil {
		return domain.ExecutionRecord{}, err
	}

	lang, err := r.languages.Get(st.sess.Language)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, st.sess.Language)
	}

	rec, captured, runErr := r.pipe.Run(ctx, lang, st.sess.ContainerID, id, code, st.sess.Variables, r.execTimeout)

	st.sess.AppendRecord(rec)
	st.sess.MergeVariables(captured)
	st.sess.Touch(r.now())

	r.recordAudit(ctx, st.sess, rec, runErr != nil)

	if runErr != nil {
		return rec, fmt.Errorf("%w: session %s: %v", ErrExecution, id, runErr)
	}
	return rec, nil
}

// Get returns a copy of the session state. Reading extends the session's
// life: viewing counts as activity.
func (r *Registry) Get(ctx context.Context, id string) (domain.SessionSnapshot, error) {
	st, err := r.lookup(id)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := r.checkExpiryLocked(ctx, st); err != nil {
		return domain.SessionSnapshot{}, err
	}

	st.sess.Touch(r.now())
	return st.sess.Snapshot(), nil
}

// Reset replaces the session's container and clears its history and
// variables, preserving its identity: language and creation time are
// untouched. Destroying the old container is best-effort and never
// blocks creation of the new one.
func (r *Registry) Reset(ctx context.Context, id string) error {
	st, err := r.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := r.checkExpiryLocked(ctx, st); err != nil {
		return err
	}

	lang, err := r.languages.Get(st.sess.Language)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, st.sess.Language)
	}

	oldContainer := st.sess.ContainerID
	st.sess.ContainerID = ""
	r.rt.DestroyContainer(ctx, oldContainer)

	containerID, err := r.rt.CreateContainer(ctx, lang, id)
	if err != nil {
		// The session survives unbound; a later reset can rebind it.
		slog.Error("Reset failed to create replacement container", "session_id", id, "error", err)
		return fmt.Errorf("%w: reset session %s: %v", ErrSessionCreation, id, err)
	}

	st.sess.ContainerID = containerID
	st.sess.History = nil
	st.sess.Variables = make(map[string]string)
	st.sess.Touch(r.now())

	slog.Info("Session reset", "session_id", id, "container_id", containerID)
	return nil
}

// Delete removes the session and destroys its bound container. It is
// idempotent: unknown or malformed ids return nil.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if !isValidSessionID(id) {
		return nil
	}

	r.mu.Lock()
	st, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	// Only this session's own container; the periodic sweep catches
	// anything else by label and age.
	r.rt.DestroyContainer(ctx, st.sess.ContainerID)

	slog.Info("Session deleted", "session_id", id, "language", st.sess.Language)
	return nil
}

// Stats computes a read-only aggregate over the live registry.
func (r *Registry) Stats() domain.Stats {
	r.mu.Lock()
	states := make([]*state, 0, len(r.sessions))
	for _, st := range r.sessions {
		states = append(states, st)
	}
	r.mu.Unlock()

	now := r.now()
	stats := domain.Stats{
		LanguageBreakdown: make(map[string]int),
	}

	var totalAge time.Duration
	for _, st := range states {
		st.mu.Lock()
		stats.TotalSessions++
		stats.LanguageBreakdown[st.sess.Language]++
		stats.TotalExecutions += st.sess.ExecCount
		if !st.sess.Expired(r.ttl, now) {
			stats.ActiveSessions++
		}
		totalAge += now.Sub(st.sess.CreatedAt)
		st.mu.Unlock()
	}

	if stats.TotalSessions > 0 {
		stats.AverageAgeMs = (totalAge / time.Duration(stats.TotalSessions)).Milliseconds()
	}
	return stats
}

// CleanupExpired evicts sessions past the idle timeout through the same
// path as Delete, then sweeps the engine for labeled containers past the
// age ceiling regardless of registry bookkeeping. Returns the number of
// sessions evicted.
func (r *Registry) CleanupExpired(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	now := r.now()
	evicted := 0
	for _, id := range ids {
		r.mu.Lock()
		st, ok := r.sessions[id]
		r.mu.Unlock()
		if !ok {
			continue
		}

		st.mu.Lock()
		expired := st.sess.Expired(r.ttl, now)
		lang := st.sess.Language
		idle := now.Sub(st.sess.LastActivity)
		st.mu.Unlock()
		if !expired {
			continue
		}

		slog.Info("Evicting idle session", "session_id", id, "language", lang, "idle", idle)
		if err := r.Delete(ctx, id); err != nil {
			slog.Error("Failed to evict session", "session_id", id, "error", err)
			continue
		}
		evicted++
	}

	if swept := r.rt.CleanupContainers(ctx, r.ttl); swept > 0 {
		slog.Info("Swept orphaned containers", "count", swept)
	}
	return evicted
}

// lookup resolves an id to its live state with shape and existence checks.
func (r *Registry) lookup(id string) (*state, error) {
	if !isValidSessionID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	r.mu.Lock()
	st, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return st, nil
}

// checkExpiryLocked evicts the session if it exceeded the idle timeout.
// Caller holds st.mu.
func (r *Registry) checkExpiryLocked(ctx context.Context, st *state) error {
	if !st.sess.Expired(r.ttl, r.now()) {
		return nil
	}

	id := st.sess.ID
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.rt.DestroyContainer(ctx, st.sess.ContainerID)
	slog.Info("Session expired", "session_id", id, "idle", r.now().Sub(st.sess.LastActivity))
	return fmt.Errorf("%w: %s", ErrSessionExpired, id)
}

// recordAudit appends the execution to the audit log, best-effort.
// Caller holds st.mu.
func (r *Registry) recordAudit(ctx context.Context, sess *domain.Session, rec domain.ExecutionRecord, failed bool) {
	if r.audit == nil {
		return
	}
	entry := store.ExecutionEntry{
		SessionID:  sess.ID,
		Language:   sess.Language,
		CodeSize:   len(rec.Code),
		Duration:   rec.Duration,
		Failed:     failed || rec.Error != "",
		ExecutedAt: rec.ExecutedAt,
	}
	if err := r.audit.RecordExecution(ctx, entry); err != nil {
		slog.Warn("Failed to audit execution", "session_id", sess.ID, "error", err)
	}
}
