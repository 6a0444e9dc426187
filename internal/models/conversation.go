package models

import "fmt"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of the caller-owned conversation history.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks that the turn has a known role.
func (t ConversationTurn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("unknown role %q", t.Role)
	}
}

// RetrievalResult is a chunk retrieved for a query with its relevance score.
type RetrievalResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// Answer is a grounded answer with the chunks that were used to produce it.
type Answer struct {
	Answer          string             `json:"answer"`
	StandaloneQuery string             `json:"standalone_query"`
	SourceChunks    []*RetrievalResult `json:"source_chunks"`
}
