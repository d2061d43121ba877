package conversation

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Meta is attached to assistant turns that were answered with retrieved web context.
type Meta struct {
	Context        string    `json:"context,omitempty"`
	ContextQueries []string  `json:"contextQueries,omitempty"`
	RetrievedAt    time.Time `json:"retrievedAt,omitempty"`
	UsedWebSearch  bool      `json:"usedWebSearch,omitempty"`
}

type Turn struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Meta      Meta      `json:"meta"`
}

func (t Turn) HasContext() bool {
	return strings.TrimSpace(t.Meta.Context) != ""
}

// Tail returns the last n turns without copying the backing array.
func Tail(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func CountRole(history []Turn, role Role) int {
	count := 0
	for _, turn := range history {
		if turn.Role == role {
			count++
		}
	}
	return count
}

func LastOfRole(history []Turn, role Role) (Turn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i], true
		}
	}
	return Turn{}, false
}

// PriorWebContext reports whether any earlier assistant turn carried web context.
func PriorWebContext(history []Turn) bool {
	for _, turn := range history {
		if turn.Role != RoleAssistant {
			continue
		}
		if turn.Meta.UsedWebSearch || turn.HasContext() {
			return true
		}
	}
	return false
}

// LatestRetrieval returns the newest RetrievedAt across the history.
func LatestRetrieval(history []Turn) (time.Time, bool) {
	var latest time.Time
	for _, turn := range history {
		if turn.Meta.RetrievedAt.After(latest) {
			latest = turn.Meta.RetrievedAt
		}
	}
	return latest, !latest.IsZero()
}

// Goal is the session's original stated objective: its first user turn.
func Goal(history []Turn) string {
	for _, turn := range history {
		if turn.Role == RoleUser {
			return strings.TrimSpace(turn.Content)
		}
	}
	return ""
}
