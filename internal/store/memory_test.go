package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sotrian/sotrian/backend/internal/model/chat"
	"github.com/sotrian/sotrian/backend/internal/store"
)

func newChat(t *testing.T, s *store.MemoryStore) chat.Chat {
	t.Helper()
	c, err := s.CreateChat(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateChat err: %v", err)
	}
	return c
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)

	for _, text := range []string{"first", "second", "third"} {
		if _, err := s.AppendMessage(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: text}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	got, err := s.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetChat err: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got.Messages[i].Content != want {
			t.Fatalf("message %d: got %q want %q", i, got.Messages[i].Content, want)
		}
	}
}

func TestAppendAssistantRequiresCurrentToken(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)

	staleToken, err := s.BeginTurn(ctx, c.ID)
	if err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	// A newer turn opens before the first one finishes.
	freshToken, err := s.BeginTurn(ctx, c.ID)
	if err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	_, err = s.AppendAssistantMessage(ctx, c.ID, chat.Message{Content: "stale reply"}, staleToken)
	if !errors.Is(err, store.ErrTurnSuperseded) {
		t.Fatalf("expected ErrTurnSuperseded, got %v", err)
	}

	if _, err := s.AppendAssistantMessage(ctx, c.ID, chat.Message{Content: "fresh reply"}, freshToken); err != nil {
		t.Fatalf("AppendAssistantMessage err: %v", err)
	}

	got, _ := s.GetChat(ctx, c.ID)
	if len(got.Messages) != 1 || got.Messages[0].Content != "fresh reply" {
		t.Fatalf("expected only the fresh reply, got %+v", got.Messages)
	}
}

func TestAppendAssistantForcesRole(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)

	token, _ := s.BeginTurn(ctx, c.ID)
	got, err := s.AppendAssistantMessage(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: "reply"}, token)
	if err != nil {
		t.Fatalf("AppendAssistantMessage err: %v", err)
	}
	if got.Messages[0].Role != chat.RoleAssistant {
		t.Fatalf("expected assistant role, got %q", got.Messages[0].Role)
	}
}

func TestDeleteLastAssistantIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)

	// Empty chat: nothing to remove.
	removed, err := s.DeleteLastAssistant(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeleteLastAssistant err: %v", err)
	}
	if removed {
		t.Fatal("expected no-op on empty chat")
	}

	s.AppendMessage(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: "question"})
	token, _ := s.BeginTurn(ctx, c.ID)
	s.AppendAssistantMessage(ctx, c.ID, chat.Message{Content: "answer"}, token)

	removed, err = s.DeleteLastAssistant(ctx, c.ID)
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%t err=%v", removed, err)
	}

	// Tail is now a user message: deleting again changes nothing.
	removed, err = s.DeleteLastAssistant(ctx, c.ID)
	if err != nil || removed {
		t.Fatalf("expected no-op, got removed=%t err=%v", removed, err)
	}

	got, _ := s.GetChat(ctx, c.ID)
	if len(got.Messages) != 1 || got.Messages[0].Role != chat.RoleUser {
		t.Fatalf("user message should survive, got %+v", got.Messages)
	}
}

func TestReplaceLastIfUser(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)

	// Empty chat appends.
	got, err := s.ReplaceLastIfUser(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: "original"})
	if err != nil {
		t.Fatalf("ReplaceLastIfUser err: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected append on empty chat, got %d messages", len(got.Messages))
	}
	originalID := got.Messages[0].ID

	// Trailing user message is overwritten in place, same ID.
	got, err = s.ReplaceLastIfUser(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: "edited"})
	if err != nil {
		t.Fatalf("ReplaceLastIfUser err: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected in-place replace, got %d messages", len(got.Messages))
	}
	if got.Messages[0].Content != "edited" || got.Messages[0].ID != originalID {
		t.Fatalf("expected edited content with stable ID, got %+v", got.Messages[0])
	}

	// Trailing assistant message forces an append instead.
	token, _ := s.BeginTurn(ctx, c.ID)
	s.AppendAssistantMessage(ctx, c.ID, chat.Message{Content: "answer"}, token)

	got, err = s.ReplaceLastIfUser(ctx, c.ID, chat.Message{Role: chat.RoleUser, Content: "followup"})
	if err != nil {
		t.Fatalf("ReplaceLastIfUser err: %v", err)
	}
	if len(got.Messages) != 3 || got.Messages[2].Content != "followup" {
		t.Fatalf("expected append after assistant tail, got %+v", got.Messages)
	}
}

func TestSoftDeleteHidesFromList(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := newChat(t, s)
	keep := newChat(t, s)

	if err := s.SoftDeleteChat(ctx, c.ID); err != nil {
		t.Fatalf("SoftDeleteChat err: %v", err)
	}

	chats, err := s.ListChats(ctx, "alice")
	if err != nil {
		t.Fatalf("ListChats err: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != keep.ID {
		t.Fatalf("expected only the kept chat, got %+v", chats)
	}

	// The document itself survives.
	if _, err := s.GetChat(ctx, c.ID); err != nil {
		t.Fatalf("soft-deleted chat should still load: %v", err)
	}
}

func TestGetChatNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.GetChat(context.Background(), "missing"); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetCredential(ctx, "alice"); !errors.Is(err, store.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}

	if err := s.PutCredential(ctx, "alice", []byte("key-123")); err != nil {
		t.Fatalf("PutCredential err: %v", err)
	}
	blob, err := s.GetCredential(ctx, "alice")
	if err != nil {
		t.Fatalf("GetCredential err: %v", err)
	}
	if string(blob) != "key-123" {
		t.Fatalf("unexpected credential: %q", blob)
	}
}
