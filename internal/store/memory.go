package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sotrian/sotrian/backend/internal/model/chat"
)

// MemoryStore implements ChatStore and CredentialStore with in-memory maps,
// suitable for tests and credential-less local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]chat.Chat
	creds map[string][]byte
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string]chat.Chat),
		creds: make(map[string][]byte),
	}
}

// CreateChat provisions a chat with the default title.
func (s *MemoryStore) CreateChat(_ context.Context, ownerID string) (chat.Chat, error) {
	now := time.Now().UTC()
	c := chat.Chat{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     chat.DefaultTitle,
		Messages:  make([]chat.Message, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	}

	s.mu.Lock()
	s.chats[c.ID] = c
	s.mu.Unlock()

	return cloneChat(c), nil
}

// GetChat retrieves a chat by identifier.
func (s *MemoryStore) GetChat(_ context.Context, chatID string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}
	return cloneChat(c), nil
}

// ListChats returns the owner's active chats.
func (s *MemoryStore) ListChats(_ context.Context, ownerID string) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Chat, 0, 8)
	for _, c := range s.chats {
		if c.OwnerID == ownerID && c.Active {
			out = append(out, cloneChat(c))
		}
	}
	return out, nil
}

// AppendMessage appends a message to the chat's ordered list.
func (s *MemoryStore) AppendMessage(_ context.Context, chatID string, msg chat.Message) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}

	appendMessage(&c, msg)
	s.chats[chatID] = c
	return cloneChat(c), nil
}

// ReplaceLastIfUser overwrites the trailing user message, or appends when the
// chat does not end with one.
func (s *MemoryStore) ReplaceLastIfUser(_ context.Context, chatID string, msg chat.Message) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}

	replaceLastIfUser(&c, msg)
	s.chats[chatID] = c
	return cloneChat(c), nil
}

// BeginTurn bumps the turn sequence and returns the new token.
func (s *MemoryStore) BeginTurn(_ context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return 0, ErrChatNotFound
	}

	c.TurnSeq++
	c.UpdatedAt = time.Now().UTC()
	s.chats[chatID] = c
	return c.TurnSeq, nil
}

// AppendAssistantMessage persists the reply when the token is still current.
func (s *MemoryStore) AppendAssistantMessage(_ context.Context, chatID string, msg chat.Message, token int64) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}
	if c.TurnSeq != token {
		return chat.Chat{}, ErrTurnSuperseded
	}

	msg.Role = chat.RoleAssistant
	appendMessage(&c, msg)
	s.chats[chatID] = c
	return cloneChat(c), nil
}

// DeleteLastAssistant removes the trailing message only if it is a reply.
func (s *MemoryStore) DeleteLastAssistant(_ context.Context, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, ErrChatNotFound
	}

	if removed := trimLastAssistant(&c); !removed {
		return false, nil
	}
	s.chats[chatID] = c
	return true, nil
}

// UpdateTitle replaces the chat title.
func (s *MemoryStore) UpdateTitle(_ context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}

	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.chats[chatID] = c
	return nil
}

// SoftDeleteChat clears the active flag without dropping the document.
func (s *MemoryStore) SoftDeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}

	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	s.chats[chatID] = c
	return nil
}

// PutCredential stores the opaque credential blob for a user.
func (s *MemoryStore) PutCredential(_ context.Context, userID string, blob []byte) error {
	s.mu.Lock()
	s.creds[userID] = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

// GetCredential fetches the opaque credential blob for a user.
func (s *MemoryStore) GetCredential(_ context.Context, userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.creds[userID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return append([]byte(nil), blob...), nil
}

func appendMessage(c *chat.Chat, msg chat.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now().UTC()
}

func replaceLastIfUser(c *chat.Chat, msg chat.Message) {
	last, ok := c.LastMessage()
	if !ok || last.Role != chat.RoleUser {
		appendMessage(c, msg)
		return
	}

	// Keep the identifier and original timestamp so references stay stable.
	updated := msg
	updated.ID = last.ID
	updated.CreatedAt = last.CreatedAt
	c.Messages[len(c.Messages)-1] = updated
	c.UpdatedAt = time.Now().UTC()
}

func trimLastAssistant(c *chat.Chat) bool {
	last, ok := c.LastMessage()
	if !ok || last.Role != chat.RoleAssistant {
		return false
	}
	c.Messages = c.Messages[:len(c.Messages)-1]
	c.UpdatedAt = time.Now().UTC()
	return true
}

func cloneChat(c chat.Chat) chat.Chat {
	copied := c
	copied.Messages = append([]chat.Message(nil), c.Messages...)
	return copied
}
