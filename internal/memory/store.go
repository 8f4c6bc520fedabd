package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cqbridge/internal/domain"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// UpsertUser records the latest nickname seen for a user.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user domain.UserInfo) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, nickname, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET nickname = excluded.nickname, updated_at = excluded.updated_at`,
		user.UserID, user.Nickname, user.UpdatedAt.UTC(),
	)
	return err
}

// GetUser returns the stored identity, or nil when the user is unknown.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.UserInfo, error) {
	var u domain.UserInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, nickname, updated_at FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.Nickname, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) InsertChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, user_text, assistant_text, context_type, context_id, trace, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.UserID, msg.UserText, msg.AssistantText, string(msg.ContextType), msg.ContextID, msg.Trace, msg.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, cc domain.ConversationContext, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 10
	}

	// Get last N messages, ordered oldest first
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_text, assistant_text, context_type, context_id, trace, created_at
		 FROM chat_messages WHERE context_type = ? AND context_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, string(cc.Type), cc.ID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var kind string
		var trace sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.UserText, &m.AssistantText,
			&kind, &m.ContextID, &trace, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ContextType = domain.MessageKind(kind)
		m.Trace = trace.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ClearHistory deletes every message of the context and returns how many were removed.
func (s *SQLiteStore) ClearHistory(ctx context.Context, cc domain.ConversationContext) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE context_type = ? AND context_id = ?`, string(cc.Type), cc.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
