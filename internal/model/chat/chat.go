package chat

import (
	"time"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

// DefaultTitle is assigned at creation and replaced once the first turn
// completes.
const DefaultTitle = "New chat"

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat is one conversation document. Messages is the conversation order;
// TurnSeq is a monotonic token bumped when a turn opens so a stale turn
// cannot persist its reply.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	TurnSeq   int64     `json:"turnSeq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Active    bool      `json:"active"`
}

// Message is a single entry in a chat. Once its turn has completed the
// content is immutable; corrections happen by delete-and-recreate.
type Message struct {
	ID        string                    `json:"id"`
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	Image     string                    `json:"image,omitempty"`
	Mode      protocol.Mode             `json:"mode,omitempty"`
	Detection *protocol.DetectionResult `json:"detection,omitempty"`
	Advisor   *protocol.AdvisorResult   `json:"advisor,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
}

// LastMessage returns the trailing message, if any.
func (c *Chat) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
