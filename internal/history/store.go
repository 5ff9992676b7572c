package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"ollama-chat/internal/history/migrations"
)

// Store persists sessions and their messages in SQLite
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

type sessionRow struct {
	ID          int64  `db:"id"`
	Created     int64  `db:"created"`
	LastUpdated int64  `db:"last_updated"`
	Title       string `db:"title"`
}

type messageRow struct {
	SessionID int64  `db:"session_id"`
	Created   int64  `db:"created"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	Visible   bool   `db:"visible"`
}

// Open opens (creating if needed) the history database at path and applies
// any pending schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// One process, one turn at a time.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate history database: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and binds active to it
func (s *Store) CreateSession(ctx context.Context, active *Active, title string) (SessionID, error) {
	now := s.now().UnixNano()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (created, last_updated, title) VALUES (?, ?, ?)`,
		now, now, title)
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}

	active.bind(SessionID(id))
	return SessionID(id), nil
}

// StartSession inserts a new session together with its hidden system
// message in one transaction. active is bound only once both rows are
// committed, so a failure leaves it untouched.
func (s *Store) StartSession(ctx context.Context, active *Active, title, system string) (SessionID, error) {
	now := s.now().UnixNano()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (created, last_updated, title) VALUES (?, ?, ?)`,
		now, now, title)
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, created, role, content, visible) VALUES (?, ?, ?, ?, ?)`,
		id, now, string(RoleSystem), system, false); err != nil {
		return 0, fmt.Errorf("failed to save system message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session: %w", err)
	}

	active.bind(SessionID(id))
	return SessionID(id), nil
}

// AppendMessage writes a message to the active session and bumps the
// session's last_updated to the message timestamp in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, active *Active, role Role, content string, visible bool) (Message, error) {
	id, ok := active.ID()
	if !ok {
		return Message{}, ErrNoActiveSession
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.GetContext(ctx, &last,
		`SELECT COALESCE(MAX(created), 0) FROM messages WHERE session_id = ?`, int64(id)); err != nil {
		return Message{}, fmt.Errorf("failed to read last message time: %w", err)
	}

	// created must be strictly increasing within a session
	created := s.now().UnixNano()
	if created <= last {
		created = last + 1
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, created, role, content, visible) VALUES (?, ?, ?, ?, ?)`,
		int64(id), created, string(role), content, visible); err != nil {
		return Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_updated = ? WHERE id = ?`, created, int64(id))
	if err != nil {
		return Message{}, fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, &SessionNotFoundError{ID: id}
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("failed to commit message: %w", err)
	}

	return Message{
		SessionID: id,
		Created:   time.Unix(0, created),
		Role:      role,
		Content:   content,
		Visible:   visible,
	}, nil
}

// ListSessions returns sessions most recently updated first. A limit of zero
// or less returns every session.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionHeader, error) {
	query := `SELECT id, created, last_updated, title FROM sessions ORDER BY last_updated DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	headers := make([]SessionHeader, len(rows))
	for i, r := range rows {
		headers[i] = SessionHeader{
			ID:          SessionID(r.ID),
			Created:     time.Unix(0, r.Created),
			LastUpdated: time.Unix(0, r.LastUpdated),
			Title:       r.Title,
		}
	}
	return headers, nil
}

// LoadMessages returns every message of a session in creation order
func (s *Store) LoadMessages(ctx context.Context, id SessionID) ([]Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT session_id, created, role, content, visible FROM messages WHERE session_id = ? ORDER BY created ASC`,
		int64(id)); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]Message, len(rows))
	for i, r := range rows {
		msgs[i] = Message{
			SessionID: SessionID(r.SessionID),
			Created:   time.Unix(0, r.Created),
			Role:      Role(r.Role),
			Content:   r.Content,
			Visible:   r.Visible,
		}
	}
	return msgs, nil
}

// SetActive binds active to id. Switching to an unknown session or to the
// session already bound both fail with a SessionNotFoundError.
func (s *Store) SetActive(ctx context.Context, active *Active, id SessionID) error {
	if active.Is(id) {
		return &SessionNotFoundError{ID: id, AlreadyActive: true}
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, int64(id)); err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if !exists {
		return &SessionNotFoundError{ID: id}
	}

	active.bind(id)
	return nil
}

// Delete removes the selected sessions with their messages and returns the
// removed ids. The active session is never removed.
func (s *Store) Delete(ctx context.Context, active *Active, sel Selector) ([]SessionID, error) {
	current, bound := active.ID()

	if !sel.All && bound && sel.ID == current {
		return []SessionID{}, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []int64
	switch {
	case sel.All && bound:
		err = tx.SelectContext(ctx, &ids, `SELECT id FROM sessions WHERE id != ? ORDER BY id`, int64(current))
	case sel.All:
		err = tx.SelectContext(ctx, &ids, `SELECT id FROM sessions ORDER BY id`)
	default:
		err = tx.SelectContext(ctx, &ids, `SELECT id FROM sessions WHERE id = ?`, int64(sel.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	if len(ids) == 0 {
		return []SessionID{}, nil
	}

	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id IN (?)`,
		`DELETE FROM sessions WHERE id IN (?)`,
	} {
		query, args, err := sqlx.In(stmt, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to delete sessions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	deleted := make([]SessionID, len(ids))
	for i, id := range ids {
		deleted[i] = SessionID(id)
	}
	return deleted, nil
}
