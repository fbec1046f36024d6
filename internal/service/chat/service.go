package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sotrian/sotrian/backend/internal/model/chat"
	"github.com/sotrian/sotrian/backend/internal/store"
	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

var (
	ErrNotOwner     = errors.New("chat does not belong to caller")
	ErrEmptyMessage = errors.New("message text or image is required")
)

const (
	titleLimit = 50

	persistAttempts = 3
	persistBackoff  = 200 * time.Millisecond
)

// Service owns conversation state: one ordered message list per chat, with
// the turn-token check guarding assistant appends.
type Service struct {
	chats store.ChatStore
}

// NewService wraps the chat document store.
func NewService(chats store.ChatStore) *Service {
	return &Service{chats: chats}
}

// CreateChat provisions a chat for the caller.
func (s *Service) CreateChat(ctx context.Context, ownerID string) (chat.Chat, error) {
	return s.chats.CreateChat(ctx, ownerID)
}

// GetChat returns the caller's chat; callers never see other owners' chats.
func (s *Service) GetChat(ctx context.Context, ownerID, chatID string) (chat.Chat, error) {
	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	if c.OwnerID != ownerID {
		return chat.Chat{}, ErrNotOwner
	}
	return c, nil
}

// ListChats returns the caller's active chats.
func (s *Service) ListChats(ctx context.Context, ownerID string) ([]chat.Chat, error) {
	return s.chats.ListChats(ctx, ownerID)
}

// AppendUserMessage records the user's turn before anything is sent
// upstream; submitted text/images persist even when detection later fails.
// With replace set, the trailing user message is overwritten instead, which
// is how edited and reloaded turns keep the message count stable.
func (s *Service) AppendUserMessage(ctx context.Context, ownerID, chatID, text, image string, mode protocol.Mode, replace bool) (chat.Chat, error) {
	if text == "" && image == "" {
		return chat.Chat{}, ErrEmptyMessage
	}
	if _, err := s.GetChat(ctx, ownerID, chatID); err != nil {
		return chat.Chat{}, err
	}

	msg := chat.Message{
		Role:    chat.RoleUser,
		Content: text,
		Image:   image,
		Mode:    mode,
	}
	if replace {
		return s.chats.ReplaceLastIfUser(ctx, chatID, msg)
	}
	return s.chats.AppendMessage(ctx, chatID, msg)
}

// BeginTurn claims the chat for one turn and returns the token the eventual
// assistant append must present.
func (s *Service) BeginTurn(ctx context.Context, chatID string) (int64, error) {
	return s.chats.BeginTurn(ctx, chatID)
}

// PersistAssistantTurn appends exactly one assistant message for a completed
// turn, retrying transient store failures. A superseded token is not
// retried; that turn lost the race and must not write.
func (s *Service) PersistAssistantTurn(ctx context.Context, chatID, content string, mode protocol.Mode, result *protocol.TurnResult, token int64) error {
	msg := chat.Message{
		Role:    chat.RoleAssistant,
		Content: content,
		Mode:    mode,
	}
	if result != nil {
		msg.Detection = result.Detection
		msg.Advisor = result.Advisor
	}

	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		updated, err := s.chats.AppendAssistantMessage(ctx, chatID, msg, token)
		if err == nil {
			s.promoteTitle(ctx, updated)
			return nil
		}
		if errors.Is(err, store.ErrTurnSuperseded) || errors.Is(err, store.ErrChatNotFound) {
			return err
		}

		lastErr = err
		log.Printf("[chat] persist attempt %d/%d failed for chat=%s: %v", attempt, persistAttempts, chatID, err)
		if attempt < persistAttempts {
			time.Sleep(persistBackoff)
		}
	}

	log.Printf("[chat] PERSISTENCE FAILURE: assistant reply for chat=%s was relayed but could not be stored: %v", chatID, lastErr)
	return fmt.Errorf("persist assistant message: %w", lastErr)
}

// DeleteLastAssistant removes the trailing assistant reply if present.
// Idempotent: a user-message tail or an empty chat is a safe no-op.
func (s *Service) DeleteLastAssistant(ctx context.Context, ownerID, chatID string) (bool, error) {
	if _, err := s.GetChat(ctx, ownerID, chatID); err != nil {
		return false, err
	}
	return s.chats.DeleteLastAssistant(ctx, chatID)
}

// SoftDelete flags the chat inactive without destroying history.
func (s *Service) SoftDelete(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.GetChat(ctx, ownerID, chatID); err != nil {
		return err
	}
	return s.chats.SoftDeleteChat(ctx, chatID)
}

// promoteTitle replaces the default title with the opening user text once
// the first turn completes. Cosmetic; failures only log.
func (s *Service) promoteTitle(ctx context.Context, c chat.Chat) {
	if len(c.Messages) != 2 || c.Title != chat.DefaultTitle {
		return
	}

	title := truncateTitle(c.Messages[0].Content)
	if title == "" {
		return
	}
	if err := s.chats.UpdateTitle(ctx, c.ID, title); err != nil {
		log.Printf("[chat] failed to promote title for chat=%s: %v", c.ID, err)
	}
}

func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}
