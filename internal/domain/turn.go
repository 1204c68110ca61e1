package domain

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole normalizes a stored or caller-supplied role. Unknown or empty
// values are treated as user turns.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAssistant:
		return RoleAssistant
	case RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}

// Turn is one message of a conversation supplied with a request.
type Turn struct {
	Role Role
	Text string
}

// HistoryRecord is a persisted turn owned by an identity. Records are only
// ever inserted or evicted, never updated.
type HistoryRecord struct {
	Identity  string
	Role      Role
	Text      string
	Seq       int64
	CreatedAt time.Time
}

// Turn returns the in-request view of the record.
func (r HistoryRecord) Turn() Turn {
	return Turn{Role: r.Role, Text: r.Text}
}
