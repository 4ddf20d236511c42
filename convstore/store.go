// Package convstore owns conversation identity and the durable, ordered
// message history a client replays after reconnecting. Backed by SQLite.
//
// The vector memory and this store are two independent systems with no
// shared transaction; both writes for one logical message are idempotent and
// keyed so an external repair pass can reconcile them.
package convstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/everbrook-ai/engram/core"
)

// Sentinel errors for conversation store operations.
var (
	// ErrHistoryWrite is returned when the durable transcript cannot be
	// written. Unlike memory failures this is user-visible on reload, so
	// callers must surface it.
	ErrHistoryWrite = errors.New("failed to write conversation history")

	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")
)

const (
	titleWords    = 5
	titleMaxRunes = 80
)

// Store persists conversations and messages in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("conversation store initialized", zap.String("path", dbPath))
	return s, nil
}

// NewInMemory opens an in-memory database for tests.
func NewInMemory(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create allocates a new conversation for the owner. The title stays empty
// until the first user message derives it.
func (s *Store) Create(ctx context.Context, ownerID string) (core.Conversation, error) {
	now := time.Now().UTC()
	conv := core.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at, updated_at) VALUES (?, ?, '', ?, ?)`,
		conv.ID, conv.OwnerID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return core.Conversation{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}
	return conv, nil
}

// Append adds a message to the ordered history. If this is the first user
// message and the title is unset, the title is derived exactly once. The
// conversation's updated_at is bumped so it sorts to the top of List.
func (s *Store) Append(ctx context.Context, conversationID string, role core.Role, text string) (core.Message, error) {
	if !role.Valid() {
		return core.Message{}, fmt.Errorf("%w: invalid role %q", ErrHistoryWrite, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx,
		`SELECT title FROM conversations WHERE id = ?`, conversationID,
	).Scan(&title)
	if err == sql.ErrNoRows {
		return core.Message{}, ErrNotFound
	}
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), text, now,
	)
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}

	if role == core.RoleUser && title == "" {
		if derived := DeriveTitle(text); derived != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET title = ? WHERE id = ? AND title = ''`,
				derived, conversationID,
			); err != nil {
				return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	); err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return core.Message{}, fmt.Errorf("%w: %v", ErrHistoryWrite, err)
	}

	return core.Message{
		ConversationID: conversationID,
		Seq:            seq,
		Role:           role,
		Text:           text,
		CreatedAt:      now,
	}, nil
}

// History returns the full ordered message replay for a conversation.
func (s *Store) History(ctx context.Context, conversationID string) ([]core.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		m := core.Message{ConversationID: conversationID}
		var role string
		if err := rows.Scan(&m.Seq, &role, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = core.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// List returns the owner's conversations, most recently active first.
func (s *Store) List(ctx context.Context, ownerID string) ([]core.ConversationInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC, created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []core.ConversationInfo
	for rows.Next() {
		var info core.ConversationInfo
		if err := rows.Scan(&info.ID, &info.Title); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Get returns a conversation by id.
func (s *Store) Get(ctx context.Context, conversationID string) (core.Conversation, error) {
	var conv core.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return core.Conversation{}, ErrNotFound
	}
	if err != nil {
		return core.Conversation{}, err
	}
	return conv, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DeriveTitle builds a conversation title from the first user message: the
// first few words, capped in length.
func DeriveTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	return title
}
