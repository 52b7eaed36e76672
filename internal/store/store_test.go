package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/api/internal/court"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "court.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func sampleSession(id, creator, partner string, at time.Time) *court.Session {
	return &court.Session{
		ID:            id,
		CreatorID:     creator,
		PartnerID:     partner,
		JudgeType:     "logical",
		Flow:          court.FlowClassic,
		Phase:         court.PhasePending,
		AddendumLimit: court.DefaultAddendumLimit,
		Revision:      at.UnixMicro(),
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestParseURL(t *testing.T) {
	dialect, dsn, err := parseURL("postgres://u:p@localhost:5432/court")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, dialect)
	assert.Equal(t, "postgres://u:p@localhost:5432/court", dsn)

	dialect, dsn, err = parseURL("sqlite://./data/court.db")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, dialect)
	assert.Contains(t, dsn, "data/court.db?")

	_, _, err = parseURL("mysql://nope")
	assert.Error(t, err)
	_, _, err = parseURL("sqlite://")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	query := `UPDATE sessions SET phase = ? WHERE id = ? AND revision = ?`
	assert.Equal(t, query, rebind(DialectSQLite, query))
	assert.Equal(t, `UPDATE sessions SET phase = $1 WHERE id = $2 AND revision = $3`, rebind(DialectPostgres, query))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	st := openSQLite(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestCreateAndLoadSession(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	session := sampleSession("ses_1", "alice", "bob", now)
	require.NoError(t, st.CreateSession(ctx, session))
	assert.ErrorIs(t, st.CreateSession(ctx, session), ErrDuplicate)

	loaded, err := st.GetSession(ctx, "ses_1")
	require.NoError(t, err)
	assert.Equal(t, session, loaded)

	_, err = st.GetSession(ctx, "ses_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, user := range []string{"alice", "bob"} {
		current, err := st.CurrentSessionForUser(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, "ses_1", current.ID)

		open, err := st.OpenSessionForUser(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, open)
	}

	none, err := st.CurrentSessionForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSaveSessionOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	session := sampleSession("ses_1", "alice", "bob", now)
	require.NoError(t, st.CreateSession(ctx, session))

	next := session.Clone()
	next.Phase = court.PhaseVerdict
	next.Revision++
	next.Verdicts = []court.VerdictVersion{{Version: 1, Ruling: court.Ruling{Summary: "v1"}, CreatedAt: now}}
	require.NoError(t, st.SaveSession(ctx, next, session.Revision))

	stale := session.Clone()
	stale.Phase = court.PhaseClosed
	stale.Revision += 2
	assert.ErrorIs(t, st.SaveSession(ctx, stale, session.Revision), ErrRevisionConflict)

	again := next.Clone()
	again.Revision++
	again.Verdicts = append(again.Verdicts, court.VerdictVersion{Version: 2, Ruling: court.Ruling{Summary: "v2"}, CreatedAt: now})
	require.NoError(t, st.SaveSession(ctx, again, next.Revision))

	versions, err := st.ListVerdictVersions(ctx, "ses_1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].Ruling.Summary)
	assert.Equal(t, "v2", versions[1].Ruling.Summary)

	loaded, err := st.GetSession(ctx, "ses_1")
	require.NoError(t, err)
	assert.Equal(t, again.Revision, loaded.Revision)
}

func TestCurrentSessionPrefersOpenThenNewest(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := sampleSession("ses_old", "alice", "bob", base)
	old.Phase = court.PhaseClosed
	require.NoError(t, st.CreateSession(ctx, old))

	newer := sampleSession("ses_new", "carol", "bob", base.Add(time.Minute))
	require.NoError(t, st.CreateSession(ctx, newer))

	// Touching the old session later must not make it current again.
	touched := old.Clone()
	touched.Revision = base.Add(time.Hour).UnixMicro()
	touched.Dismissed.Creator = true
	require.NoError(t, st.SaveSession(ctx, touched, old.Revision))

	current, err := st.CurrentSessionForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "ses_new", current.ID)

	current, err = st.CurrentSessionForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "ses_old", current.ID)

	open, err := st.OpenSessionForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestVerdictVersionsAreImmutableSQLite(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	session := sampleSession("ses_1", "alice", "bob", now)
	session.Verdicts = []court.VerdictVersion{{Version: 1, CreatedAt: now}}
	require.NoError(t, st.CreateSession(ctx, session))

	_, err := st.DB().ExecContext(ctx, `UPDATE verdict_versions SET body = '{}' WHERE session_id = 'ses_1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verdict_versions is immutable")

	_, err = st.DB().ExecContext(ctx, `DELETE FROM verdict_versions WHERE session_id = 'ses_1'`)
	require.Error(t, err)
}

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	require.NoError(t, RollbackMigrations(ctx, st.DB(), st.Dialect()))
	require.NoError(t, st.Migrate(ctx))
}
