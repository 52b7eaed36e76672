package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courtroom/api/internal/archive"
	"courtroom/api/internal/config"
	"courtroom/api/internal/court"
	"courtroom/api/internal/logging"
	"courtroom/api/internal/store"
	"courtroom/api/internal/verdict"
)

const (
	alice = "user_alice"
	bob   = "user_bob"
	carol = "user_carol"
)

// memStore mirrors the SQL store semantics in memory.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*court.Session
	versions map[string][]court.VerdictVersion

	saveSessionFn func(context.Context, *court.Session, int64) error
	pingFn        func(context.Context) error
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*court.Session),
		versions: make(map[string][]court.VerdictVersion),
	}
}

func (m *memStore) CreateSession(_ context.Context, session *court.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return store.ErrDuplicate
	}
	m.sessions[session.ID] = session.Clone()
	m.appendVersionsLocked(session)
	return nil
}

func (m *memStore) SaveSession(ctx context.Context, session *court.Session, expectedRevision int64) error {
	if m.saveSessionFn != nil {
		if err := m.saveSessionFn(ctx, session, expectedRevision); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, session.ID)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: %s", store.ErrRevisionConflict, session.ID)
	}
	m.sessions[session.ID] = session.Clone()
	m.appendVersionsLocked(session)
	return nil
}

func (m *memStore) appendVersionsLocked(session *court.Session) {
	existing := m.versions[session.ID]
	for _, version := range session.Verdicts {
		if version.Version > len(existing) {
			existing = append(existing, version)
		}
	}
	m.versions[session.ID] = existing
}

func (m *memStore) GetSession(_ context.Context, sessionID string) (*court.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, sessionID)
	}
	return session.Clone(), nil
}

func (m *memStore) CurrentSessionForUser(_ context.Context, userID string) (*court.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *court.Session
	for _, session := range m.sessions {
		if _, ok := session.RoleOf(userID); !ok {
			continue
		}
		if best == nil || outranks(session, best) {
			best = session
		}
	}
	return best.Clone(), nil
}

func outranks(a, b *court.Session) bool {
	if a.Open() != b.Open() {
		return a.Open()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Revision > b.Revision
}

func (m *memStore) OpenSessionForUser(_ context.Context, userID string) (*court.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if _, ok := session.RoleOf(userID); ok && session.Open() {
			return session.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListVerdictVersions(_ context.Context, sessionID string) ([]court.VerdictVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]court.VerdictVersion{}, m.versions[sessionID]...), nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type fakeGenerator struct {
	generateFn func(context.Context, verdict.Request) (verdict.Result, error)
	hybridFn   func(context.Context, verdict.HybridRequest) (court.ResolutionOption, error)

	mu       sync.Mutex
	requests []verdict.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req verdict.Request) (verdict.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.generateFn != nil {
		return f.generateFn(ctx, req)
	}
	return verdict.Static{}.Generate(ctx, req)
}

func (f *fakeGenerator) Hybrid(ctx context.Context, req verdict.HybridRequest) (court.ResolutionOption, error) {
	if f.hybridFn != nil {
		return f.hybridFn(ctx, req)
	}
	return verdict.Static{}.Hybrid(ctx, req)
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeArchive struct {
	mu       sync.Mutex
	commits  []archive.Commit
	versions map[string]court.VerdictVersion
}

func (f *fakeArchive) CommitVersion(sessionID string, version court.VerdictVersion, author string) (archive.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commit := archive.Commit{Hash: fmt.Sprintf("%07d", len(f.commits)+1), Version: version.Version, Author: author, Message: sessionID}
	f.commits = append(f.commits, commit)
	if f.versions == nil {
		f.versions = make(map[string]court.VerdictVersion)
	}
	f.versions[fmt.Sprintf("%s/%d", sessionID, version.Version)] = version
	return commit, nil
}

func (f *fakeArchive) Read(sessionID string, version int) (court.VerdictVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[fmt.Sprintf("%s/%d", sessionID, version)]
	if !ok {
		return court.VerdictVersion{}, archive.ErrNotArchived
	}
	return v, nil
}

func (f *fakeArchive) History(sessionID string, limit int) ([]archive.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]archive.Commit, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		if f.commits[i].Message == sessionID {
			out = append(out, f.commits[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func testConfig() config.Config {
	return config.Config{
		AddendumLimit:  2,
		VerdictTimeout: 5 * time.Second,
		ReplayTTL:      time.Minute,
		JWTSecret:      "test-secret",
		CORSOrigin:     "*",
	}
}

func newTestService(t *testing.T, deps Deps) (*Service, *memStore) {
	t.Helper()
	ms, ok := deps.Store.(*memStore)
	if !ok || ms == nil {
		ms = newMemStore()
		deps.Store = ms
	}
	if deps.Generator == nil {
		deps.Generator = &fakeGenerator{}
	}
	deps.Logger = logging.Discard()
	svc := New(testConfig(), deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, ms
}

func act(t *testing.T, svc *Service, userID string, action court.Action) court.View {
	t.Helper()
	view, err := svc.Dispatch(context.Background(), userID, "", action)
	require.NoError(t, err)
	return view
}

func evidenceAction(facts string) court.Action {
	return court.Action{Kind: court.ActionSubmitEvidence, Evidence: facts, Feelings: "tired", Needs: "help"}
}

// toVerdict serves alice against bob and waits for the first ruling.
func toVerdict(t *testing.T, svc *Service) court.View {
	t.Helper()
	act(t, svc, alice, court.Action{Kind: court.ActionServe, PartnerID: bob, JudgeType: "blunt"})
	act(t, svc, bob, court.Action{Kind: court.ActionAccept})
	act(t, svc, alice, evidenceAction("dishes"))
	view := act(t, svc, bob, evidenceAction("laundry"))
	require.Equal(t, court.ViewAnalyzing, view.Phase)
	svc.jobs.Wait()

	state, err := svc.State(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, court.ViewVerdict, state.Phase)
	return state
}
