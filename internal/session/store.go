package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"webchat/backend/internal/conversation"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the conversation history the retrieval pipeline reads and appends to.
type Store interface {
	CreateSession(ctx context.Context, title string) (Session, error)
	// History returns the most recent limit turns in chronological order. A
	// limit <= 0 returns every turn.
	History(ctx context.Context, sessionID string, limit int) ([]conversation.Turn, error)
	// Goal is the content of the first user turn, or "" for a new session.
	Goal(ctx context.Context, sessionID string) (string, error)
	Append(ctx context.Context, sessionID string, turns ...conversation.Turn) ([]conversation.Turn, error)
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) CreateSession(ctx context.Context, title string) (Session, error) {
	out := Session{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: s.now().UTC(),
	}
	query := `INSERT INTO chat_sessions (id, title, created_at) VALUES (?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, query, out.ID, out.Title, out.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (s *SQLStore) exists(ctx context.Context, sessionID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM chat_sessions WHERE id = ?;`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, sessionID string, limit int) ([]conversation.Turn, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `
SELECT id, session_id, role, content, meta, created_at FROM (
  SELECT id, session_id, seq, role, content, meta, created_at
  FROM turns
  WHERE session_id = ?
  ORDER BY seq DESC
  LIMIT ?
) ORDER BY seq ASC;
`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := make([]conversation.Turn, 0, 16)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return turns, nil
}

func (s *SQLStore) Goal(ctx context.Context, sessionID string) (string, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return "", err
	}
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM turns WHERE session_id = ? AND role = ? ORDER BY seq ASC LIMIT 1;`,
		sessionID, string(conversation.RoleUser),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query goal: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// Append stores turns in order. Turns are never updated after they are written.
func (s *SQLStore) Append(ctx context.Context, sessionID string, turns ...conversation.Turn) ([]conversation.Turn, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?;`, sessionID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	stored := make([]conversation.Turn, 0, len(turns))
	for _, turn := range turns {
		seq++
		turn = s.prepare(sessionID, turn)
		meta, err := json.Marshal(turn.Meta)
		if err != nil {
			return nil, fmt.Errorf("encode turn meta: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (id, session_id, seq, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
			turn.ID, sessionID, seq, string(turn.Role), turn.Content, string(meta), turn.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return nil, fmt.Errorf("insert turn: %w", err)
		}
		stored = append(stored, turn)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return stored, nil
}

func (s *SQLStore) prepare(sessionID string, turn conversation.Turn) conversation.Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	turn.SessionID = sessionID
	return turn
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (conversation.Turn, error) {
	var (
		turn      conversation.Turn
		role      string
		meta      string
		createdAt string
	)
	if err := row.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &meta, &createdAt); err != nil {
		return conversation.Turn{}, fmt.Errorf("scan turn: %w", err)
	}
	turn.Role = conversation.Role(role)
	if strings.TrimSpace(meta) != "" {
		if err := json.Unmarshal([]byte(meta), &turn.Meta); err != nil {
			return conversation.Turn{}, fmt.Errorf("decode turn meta: %w", err)
		}
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("parse turn time: %w", err)
	}
	turn.CreatedAt = parsed
	return turn, nil
}
