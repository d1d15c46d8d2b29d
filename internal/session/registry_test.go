package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/replbox/replbox/internal/language"
	"github.com/replbox/replbox/internal/pipeline"
	"github.com/replbox/replbox/internal/runtime"
	"github.com/replbox/replbox/internal/sanitize"
	"github.com/replbox/replbox/internal/store"
)

// fakeRuntime is an in-memory stand-in for the Docker runtime.
type fakeRuntime struct {
	mu         sync.Mutex
	nextID     int
	created    []string
	destroyed  []string
	createErr  error
	execErr    error
	execDelay  time.Duration
	execOutput runtime.ExecOutput
	swept      int
}

func (f *fakeRuntime) CreateContainer(_ context.Context, _ language.Language, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("ctr-%d-%s", f.nextID, sessionID)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeRuntime) Exec(_ context.Context, _ language.Language, _, code string, _ time.Duration) (runtime.ExecOutput, error) {
	f.mu.Lock()
	delay := f.execDelay
	execErr := f.execErr
	out := f.execOutput
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if execErr != nil {
		return runtime.ExecOutput{}, execErr
	}
	if out.Stdout == "" {
		out.Stdout = "ran: " + code
	}
	return out, nil
}

func (f *fakeRuntime) DestroyContainer(_ context.Context, containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, containerID)
}

func (f *fakeRuntime) ListContainers(context.Context) ([]runtime.Info, error) { return nil, nil }

func (f *fakeRuntime) CleanupContainers(context.Context, time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept++
	return 0
}

func (f *fakeRuntime) destroyedContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyed...)
}

// fakeAudit records audit entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []store.ExecutionEntry
}

func (f *fakeAudit) RecordExecution(_ context.Context, entry store.ExecutionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) RecentExecutions(context.Context, int) ([]store.ExecutionEntry, error) {
	return nil, nil
}
func (f *fakeAudit) CountExecutions(context.Context) (int64, error) { return 0, nil }
func (f *fakeAudit) Ping(context.Context) error                     { return nil }
func (f *fakeAudit) Close() error                                   { return nil }

func newTestRegistry(t *testing.T, rt runtime.Runtime) *Registry {
	t.Helper()
	languages := language.NewRegistry()
	pipe := pipeline.New(sanitize.New(), rt)
	return NewRegistry(languages, rt, pipe, &fakeAudit{}, 30*time.Minute, time.Second)
}

func TestCreateReturnsWellShapedID(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})

	id, err := reg.Create(context.Background(), "python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isValidSessionID(id) {
		t.Errorf("id %q does not match the id-shape contract", id)
	}

	snap, err := reg.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("new session must be retrievable: %v", err)
	}
	if snap.Language != "python" {
		t.Errorf("expected language python, got %q", snap.Language)
	}
	if len(snap.History) != 0 {
		t.Errorf("new session must have empty history, got %d records", len(snap.History))
	}
}

func TestCreateUnsupportedLanguage(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})

	_, err := reg.Create(context.Background(), "cobol")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if got := reg.Stats().TotalSessions; got != 0 {
		t.Errorf("no session must be registered, found %d", got)
	}
}

func TestCreateRollsBackOnContainerFailure(t *testing.T) {
	rt := &fakeRuntime{createErr: errors.New("image unavailable")}
	reg := newTestRegistry(t, rt)

	_, err := reg.Create(context.Background(), "python")
	if !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("expected ErrSessionCreation, got %v", err)
	}
	if got := reg.Stats().TotalSessions; got != 0 {
		t.Errorf("failed creation must leave no partial session, found %d", got)
	}
}

func TestExecuteRecordsHistoryAndBumpsActivity(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})
	id, _ := reg.Create(context.Background(), "python")

	before, _ := reg.Get(context.Background(), id)

	rec, err := reg.Execute(context.Background(), id, "print(1)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Output == "" {
		t.Error("expected captured output")
	}

	after, _ := reg.Get(context.Background(), id)
	if len(after.History) != 1 {
		t.Fatalf("expected one history record, got %d", len(after.History))
	}
	if after.LastActivity.Before(before.LastActivity) {
		t.Error("execution must bump last-activity")
	}
}

func TestExecuteInvalidAndUnknownIDs(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})

	if _, err := reg.Execute(context.Background(), "", "x"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("empty id: expected ErrInvalidSessionID, got %v", err)
	}
	if _, err := reg.Execute(context.Background(), "not-a-session", "x"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("malformed id: expected ErrInvalidSessionID, got %v", err)
	}
	if _, err := reg.Execute(context.Background(), "sess_"+strings.Repeat("0", 32), "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("well-shaped unknown id: expected ErrSessionNotFound, got %v", err)
	}
}

func TestExecuteHistoryCapFIFO(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})
	id, _ := reg.Create(context.Background(), "python")

	total := 110
	for i := 0; i < total; i++ {
		if _, err := reg.Execute(context.Background(), id, fmt.Sprintf("print(%d)", i)); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	snap, _ := reg.Get(context.Background(), id)
	if len(snap.History) != 100 {
		t.Fatalf("expected exactly 100 records, got %d", len(snap.History))
	}
	if snap.History[0].Code != "print(10)" {
		t.Errorf("oldest records must be evicted first, first is %q", snap.History[0].Code)
	}
	if snap.History[99].Code != "print(109)" {
		t.Errorf("most recent record must be last, got %q", snap.History[99].Code)
	}
	if snap.ExecCount != total {
		t.Errorf("expected exec count %d, got %d", total, snap.ExecCount)
	}
}

func TestExpiredSessionIsEvicted(t *testing.T) {
	rt := &fakeRuntime{}
	reg := newTestRegistry(t, rt)
	id, _ := reg.Create(context.Background(), "python")

	// Backdate last-activity past the idle timeout.
	reg.mu.Lock()
	st := reg.sessions[id]
	reg.mu.Unlock()
	st.mu.Lock()
	st.sess.LastActivity = time.Now().Add(-31 * time.Minute)
	containerID := st.sess.ContainerID
	st.mu.Unlock()

	if _, err := reg.Execute(context.Background(), id, "print(1)"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// Eviction is immediate: the session is gone and its container destroyed.
	if _, err := reg.Get(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session must be absent afterward, got %v", err)
	}
	found := false
	for _, d := range rt.destroyedContainers() {
		if d == containerID {
			found = true
		}
	}
	if !found {
		t.Error("expired session's container must be destroyed")
	}
}

func TestExecuteFailureKeepsSessionAlive(t *testing.T) {
	rt := &fakeRuntime{execErr: errors.New("exec broke")}
	reg := newTestRegistry(t, rt)
	id, _ := reg.Create(context.Background(), "python")

	_, err := reg.Execute(context.Background(), id, "print(1)")
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}

	snap, err := reg.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed run must not delete the session: %v", err)
	}
	if len(snap.History) != 1 || snap.History[0].Error == "" {
		t.Error("failed run must still be recorded in history")
	}
}

func TestTimeoutKeepsSessionQueryable(t *testing.T) {
	rt := &fakeRuntime{execErr: fmt.Errorf("%w after 1s", runtime.ErrExecTimeout)}
	reg := newTestRegistry(t, rt)
	id, _ := reg.Create(context.Background(), "python")

	rec, err := reg.Execute(context.Background(), id, "time.sleep(60)")
	if err != nil {
		t.Fatalf("timeout must surface as data, got error %v", err)
	}
	if rec.Output != "" {
		t.Errorf("timed-out run must have no output, got %q", rec.Output)
	}
	if !strings.Contains(rec.Error, "timed out") {
		t.Errorf("expected timeout text, got %q", rec.Error)
	}

	if _, err := reg.Get(context.Background(), id); err != nil {
		t.Errorf("session must remain queryable after timeout: %v", err)
	}
}

func TestResetPreservesIdentity(t *testing.T) {
	rt := &fakeRuntime{}
	reg := newTestRegistry(t, rt)
	id, _ := reg.Create(context.Background(), "python")
	if _, err := reg.Execute(context.Background(), id, "x = 42"); err != nil {
		t.Fatal(err)
	}

	before, _ := reg.Get(context.Background(), id)

	if err := reg.Reset(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := reg.Get(context.Background(), id)
	if after.Language != before.Language {
		t.Error("reset must preserve language")
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Error("reset must preserve creation time")
	}
	if len(after.History) != 0 {
		t.Errorf("reset must clear history, got %d records", len(after.History))
	}
	if len(after.Variables) != 0 {
		t.Errorf("reset must clear variables, got %v", after.Variables)
	}
	if after.ContainerID == before.ContainerID {
		t.Error("reset must bind a fresh container")
	}

	// The old container is gone; exactly one container is attributed to
	// the session at any time.
	found := false
	for _, d := range rt.destroyedContainers() {
		if d == before.ContainerID {
			found = true
		}
	}
	if !found {
		t.Error("reset must destroy the previous container")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})
	id, _ := reg.Create(context.Background(), "python")

	if err := reg.Delete(context.Background(), id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := reg.Delete(context.Background(), id); err != nil {
		t.Fatalf("second delete must not fail: %v", err)
	}
	if err := reg.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("delete of malformed id must not fail: %v", err)
	}
	if err := reg.Delete(context.Background(), "sess_"+strings.Repeat("f", 32)); err != nil {
		t.Fatalf("delete of unknown id must not fail: %v", err)
	}
}

func TestSessionsNeverShareContainers(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})

	a, _ := reg.Create(context.Background(), "python")
	b, _ := reg.Create(context.Background(), "python")

	snapA, _ := reg.Get(context.Background(), a)
	snapB, _ := reg.Get(context.Background(), b)
	if snapA.ContainerID == snapB.ContainerID {
		t.Errorf("sessions for the same language share container %q", snapA.ContainerID)
	}
}

func TestVariableStateCarriesAcrossExecutions(t *testing.T) {
	rt := &fakeRuntime{}
	reg := newTestRegistry(t, rt)
	id, _ := reg.Create(context.Background(), "python")

	if _, err := reg.Execute(context.Background(), id, "x = 42"); err != nil {
		t.Fatal(err)
	}

	snap, _ := reg.Get(context.Background(), id)
	if snap.Variables["x"] != "42" {
		t.Fatalf("expected variable snapshot to hold x=42, got %v", snap.Variables)
	}
}

func TestConcurrentIndependenceAcrossSessions(t *testing.T) {
	slow := &fakeRuntime{execDelay: 200 * time.Millisecond}
	reg := newTestRegistry(t, slow)

	a, _ := reg.Create(context.Background(), "python")
	b, _ := reg.Create(context.Background(), "javascript")

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = reg.Execute(context.Background(), a, "slow()")
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let A enter its exec

	fastStart := time.Now()
	slow.mu.Lock()
	slow.execDelay = 0
	slow.mu.Unlock()
	if _, err := reg.Execute(context.Background(), b, "fast()"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(fastStart); elapsed > 150*time.Millisecond {
		t.Errorf("execution on B was delayed by A's slow run: %v", elapsed)
	}
}

func TestStatsAggregate(t *testing.T) {
	reg := newTestRegistry(t, &fakeRuntime{})

	p1, _ := reg.Create(context.Background(), "python")
	if _, err := reg.Create(context.Background(), "python"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(context.Background(), "javascript"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Execute(context.Background(), p1, "print(1)"); err != nil {
		t.Fatal(err)
	}

	stats := reg.Stats()
	if stats.TotalSessions != 3 {
		t.Errorf("expected 3 total sessions, got %d", stats.TotalSessions)
	}
	if stats.LanguageBreakdown["python"] != 2 || stats.LanguageBreakdown["javascript"] != 1 {
		t.Errorf("unexpected breakdown %v", stats.LanguageBreakdown)
	}
	if stats.ActiveSessions != 3 {
		t.Errorf("expected 3 active sessions, got %d", stats.ActiveSessions)
	}
	if stats.TotalExecutions != 1 {
		t.Errorf("expected 1 total execution, got %d", stats.TotalExecutions)
	}
}

func TestCleanupExpiredEvictsAndSweeps(t *testing.T) {
	rt := &fakeRuntime{}
	reg := newTestRegistry(t, rt)

	stale, _ := reg.Create(context.Background(), "python")
	fresh, _ := reg.Create(context.Background(), "python")

	reg.mu.Lock()
	st := reg.sessions[stale]
	reg.mu.Unlock()
	st.mu.Lock()
	st.sess.LastActivity = time.Now().Add(-time.Hour)
	st.mu.Unlock()

	evicted := reg.CleanupExpired(context.Background())
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, err := reg.Get(context.Background(), stale); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale session must be gone after cleanup")
	}
	if _, err := reg.Get(context.Background(), fresh); err != nil {
		t.Errorf("fresh session must survive cleanup: %v", err)
	}

	rt.mu.Lock()
	swept := rt.swept
	rt.mu.Unlock()
	if swept != 1 {
		t.Errorf("cleanup must also sweep engine containers, swept=%d", swept)
	}
}

func TestCleanupWorkerRunsOnInterval(t *testing.T) {
	rt := &fakeRuntime{}
	reg := newTestRegistry(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartCleanupWorker(ctx, reg, 20*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		rt.mu.Lock()
		swept := rt.swept
		rt.mu.Unlock()
		if swept >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not sweep twice in time, swept=%d", swept)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
