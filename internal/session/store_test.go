package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/db"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(database)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sql":    newSQLStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestStoreAppendHistoryAndGoal(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.CreateSession(ctx, "  energy  ")
			if err != nil {
				t.Fatalf("create session: %v", err)
			}
			if sess.Title != "energy" {
				t.Fatalf("unexpected title: %q", sess.Title)
			}

			goal, err := store.Goal(ctx, sess.ID)
			if err != nil || goal != "" {
				t.Fatalf("expected empty goal for new session, got %q %v", goal, err)
			}

			retrievedAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
			stored, err := store.Append(ctx, sess.ID,
				conversation.Turn{Role: conversation.RoleUser, Content: "Track renewable energy policy"},
				conversation.Turn{Role: conversation.RoleAssistant, Content: "Here is a summary", Meta: conversation.Meta{
					Context:        "Web results ...",
					ContextQueries: []string{"renewable energy policy"},
					RetrievedAt:    retrievedAt,
					UsedWebSearch:  true,
				}},
			)
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if len(stored) != 2 || stored[0].ID == "" || stored[1].SessionID != sess.ID {
				t.Fatalf("unexpected stored turns: %+v", stored)
			}
			if _, err := store.Append(ctx, sess.ID, conversation.Turn{Role: conversation.RoleUser, Content: "and wind?"}); err != nil {
				t.Fatalf("append follow-up: %v", err)
			}

			history, err := store.History(ctx, sess.ID, 0)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(history) != 3 || history[2].Content != "and wind?" {
				t.Fatalf("unexpected history: %+v", history)
			}
			meta := history[1].Meta
			if !meta.UsedWebSearch || meta.Context != "Web results ..." || !meta.RetrievedAt.Equal(retrievedAt) || len(meta.ContextQueries) != 1 {
				t.Fatalf("meta did not round-trip: %+v", meta)
			}

			recent, err := store.History(ctx, sess.ID, 2)
			if err != nil {
				t.Fatalf("recent history: %v", err)
			}
			if len(recent) != 2 || recent[0].Role != conversation.RoleAssistant || recent[1].Content != "and wind?" {
				t.Fatalf("expected the last two turns in order, got %+v", recent)
			}

			goal, err = store.Goal(ctx, sess.ID)
			if err != nil || goal != "Track renewable energy policy" {
				t.Fatalf("unexpected goal %q %v", goal, err)
			}
		})
	}
}

func TestStoreUnknownSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.History(ctx, "missing", 10); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found from history, got %v", err)
			}
			if _, err := store.Goal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found from goal, got %v", err)
			}
			if _, err := store.Append(ctx, "missing", conversation.Turn{Role: conversation.RoleUser}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found from append, got %v", err)
			}
		})
	}
}
