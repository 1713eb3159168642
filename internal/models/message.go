package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleSpecialist Role = "specialist"
	RoleSystem     Role = "system"
)

// InboundMessage is one conversational request: an ordered part sequence
// addressed to a (user, conversation) pair. Model, when set, updates the
// session's model preference before the exchange runs.
type InboundMessage struct {
	UserID         string        `json:"user_id"`
	ConversationID string        `json:"conversation_id"`
	Parts          []ContentPart `json:"parts"`
	Model          string        `json:"model,omitempty"`
}

// Validate rejects empty messages and invalid parts before any specialist
// is invoked.
func (m InboundMessage) Validate() error {
	if m.UserID == "" || m.ConversationID == "" {
		return fmt.Errorf("%w: user_id and conversation_id are required", ErrInvalidInput)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("%w: message has no parts", ErrInvalidInput)
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Turn is one committed entry in a session's history.
type Turn struct {
	Role      Role          `json:"role"`
	Parts     []ContentPart `json:"parts"`
	CreatedAt time.Time     `json:"created_at"`
}
