package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"courtroom/api/internal/court"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrRevisionConflict = errors.New("session was modified concurrently")
	ErrDuplicate        = errors.New("session already exists")
)

// SQLStore persists court sessions in Postgres or SQLite. The session body
// is stored as JSON next to the columns used for lookups; verdict versions
// are mirrored into an append-only table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectPostgres}
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectSQLite}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, s.db, s.dialect)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *SQLStore) CreateSession(ctx context.Context, session *court.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO sessions (id, creator_id, partner_id, phase, revision, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), session.ID, session.CreatorID, session.PartnerID, string(session.Phase), session.Revision, string(body),
		toMillis(session.CreatedAt), toMillis(session.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, session.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	if err := s.insertVersions(ctx, tx, session, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	return nil
}

// SaveSession overwrites the stored session if its revision still equals
// expectedRevision, and appends any verdict versions not yet stored.
func (s *SQLStore) SaveSession(ctx context.Context, session *court.Session, expectedRevision int64) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE sessions
		SET phase = ?, revision = ?, body = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`), string(session.Phase), session.Revision, string(body), toMillis(session.UpdatedAt), session.ID, expectedRevision)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s at revision %d", ErrRevisionConflict, session.ID, expectedRevision)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(version), 0) FROM verdict_versions WHERE session_id = ?`), session.ID).Scan(&stored); err != nil {
		return fmt.Errorf("latest verdict version: %w", err)
	}
	if err := s.insertVersions(ctx, tx, session, stored); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

func (s *SQLStore) insertVersions(ctx context.Context, tx *sql.Tx, session *court.Session, after int) error {
	for _, version := range session.Verdicts {
		if version.Version <= after {
			continue
		}
		body, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("marshal verdict version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO verdict_versions (session_id, version, body, created_at)
			VALUES (?, ?, ?, ?)
		`), session.ID, version.Version, string(body), toMillis(version.CreatedAt)); err != nil {
			return fmt.Errorf("insert verdict version %d: %w", version.Version, err)
		}
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*court.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT body FROM sessions WHERE id = ?`), sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return session, err
}

// CurrentSessionForUser returns the session the user currently sees: the
// open one if any, otherwise the most recently created closed one. It
// returns nil without error when the user never took part in a session.
func (s *SQLStore) CurrentSessionForUser(ctx context.Context, userID string) (*court.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT body FROM sessions
		WHERE creator_id = ? OR partner_id = ?
		ORDER BY CASE WHEN phase = 'CLOSED' THEN 1 ELSE 0 END, created_at DESC, revision DESC
		LIMIT 1
	`), userID, userID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// OpenSessionForUser returns the user's non-closed session, or nil.
func (s *SQLStore) OpenSessionForUser(ctx context.Context, userID string) (*court.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT body FROM sessions
		WHERE (creator_id = ? OR partner_id = ?) AND phase <> 'CLOSED'
		ORDER BY created_at DESC
		LIMIT 1
	`), userID, userID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func (s *SQLStore) ListVerdictVersions(ctx context.Context, sessionID string) ([]court.VerdictVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT body FROM verdict_versions
		WHERE session_id = ?
		ORDER BY version ASC
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list verdict versions: %w", err)
	}
	defer rows.Close()

	items := make([]court.VerdictVersion, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan verdict version: %w", err)
		}
		var item court.VerdictVersion
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("decode verdict version: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanSession(row *sql.Row) (*court.Session, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var session court.Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
