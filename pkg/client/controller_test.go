package client_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sotrian/sotrian/backend/pkg/client"
	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

func loadedConsumer(t *testing.T, backend *fakeBackend) *client.Consumer {
	t.Helper()
	backend.mu.Lock()
	backend.chat.Messages = []client.Message{
		{ID: "m1", Role: client.RoleUser, Content: "is this a scam?", Mode: protocol.ModeDetection},
		{ID: "m2", Role: client.RoleAssistant, Content: "old reply", Mode: protocol.ModeDetection},
	}
	backend.mu.Unlock()

	consumer := client.NewConsumer(backend.api(), "chat-1", true)
	if err := consumer.Load(context.Background()); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	return consumer
}

func TestReloadReplacesTrailingReply(t *testing.T) {
	backend := newFakeBackend(t)
	backend.script(false,
		`{"type":"content","content":"fresh reply"}`,
		`{"type":"complete","result":{"mode":"detection","detection":{"queryType":"conversation","riskLevel":"N/A"}}}`,
	)

	consumer := loadedConsumer(t, backend)
	controller := client.NewController(backend.api(), consumer)

	outcome, err := controller.Reload(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Reload err: %v", err)
	}
	if outcome != client.OutcomeCompleted {
		t.Fatalf("outcome %v", outcome)
	}

	if backend.deleteCount() != 1 {
		t.Fatalf("expected one server-side delete, got %d", backend.deleteCount())
	}

	msgs := consumer.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count must stay stable, got %d", len(msgs))
	}
	if msgs[0].Content != "is this a scam?" {
		t.Fatalf("user text must not change on reload: %q", msgs[0].Content)
	}
	if msgs[1].Content != "fresh reply" {
		t.Fatalf("old reply must be replaced: %q", msgs[1].Content)
	}

	// The re-issued turn carries the same text and the replace flag.
	turn := backend.turnAt(0)
	if turn.Message != "is this a scam?" || !turn.Replace {
		t.Fatalf("unexpected re-issued turn: %+v", turn)
	}
}

func TestEditOverwritesUserTextInPlace(t *testing.T) {
	backend := newFakeBackend(t)
	backend.script(false,
		`{"type":"content","content":"reply to edit"}`,
		`{"type":"complete"}`,
	)

	consumer := loadedConsumer(t, backend)
	controller := client.NewController(backend.api(), consumer)

	outcome, err := controller.Edit(context.Background(), "m1", "is this QR code a scam?")
	if err != nil {
		t.Fatalf("Edit err: %v", err)
	}
	if outcome != client.OutcomeCompleted {
		t.Fatalf("outcome %v", outcome)
	}

	msgs := consumer.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count must stay stable, got %d", len(msgs))
	}
	if msgs[0].Content != "is this QR code a scam?" {
		t.Fatalf("user text not overwritten: %q", msgs[0].Content)
	}
	if msgs[0].ID != "m1" {
		t.Fatalf("edited message must keep its position and ID, got %q", msgs[0].ID)
	}
	if msgs[1].Content != "reply to edit" {
		t.Fatalf("unexpected reply: %q", msgs[1].Content)
	}

	turn := backend.turnAt(0)
	if turn.Message != "is this QR code a scam?" || !turn.Replace {
		t.Fatalf("unexpected re-issued turn: %+v", turn)
	}
}

func TestRerunAfterErrorBubble(t *testing.T) {
	backend := newFakeBackend(t)
	// First turn fails, leaving a local error bubble that was never
	// persisted server-side.
	backend.script(false, `{"type":"error","error":"engine down"}`)

	consumer := client.NewConsumer(backend.api(), "chat-1", true)
	if _, err := consumer.Submit(context.Background(), client.TurnInput{Message: "check", Mode: protocol.ModeDetection}); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	backend.script(false,
		`{"type":"content","content":"recovered reply"}`,
		`{"type":"complete"}`,
	)

	controller := client.NewController(backend.api(), consumer)
	userID := consumer.Messages()[0].ID
	outcome, err := controller.Reload(context.Background(), userID)
	if err != nil {
		t.Fatalf("Reload err: %v", err)
	}
	if outcome != client.OutcomeCompleted {
		t.Fatalf("outcome %v", outcome)
	}

	// The idempotent delete ran against a user tail server-side: harmless.
	msgs := consumer.Messages()
	if len(msgs) != 2 || msgs[1].Content != "recovered reply" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestReloadUnknownMessage(t *testing.T) {
	backend := newFakeBackend(t)

	consumer := client.NewConsumer(backend.api(), "chat-1", true)
	controller := client.NewController(backend.api(), consumer)

	if _, err := controller.Reload(context.Background(), "missing"); !errors.Is(err, client.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestReloadRefusesNonTrailingTurn(t *testing.T) {
	backend := newFakeBackend(t)
	backend.mu.Lock()
	backend.chat.Messages = []client.Message{
		{ID: "m1", Role: client.RoleUser, Content: "first question"},
		{ID: "m2", Role: client.RoleAssistant, Content: "first reply"},
		{ID: "m3", Role: client.RoleUser, Content: "second question"},
		{ID: "m4", Role: client.RoleAssistant, Content: "second reply"},
	}
	backend.mu.Unlock()

	consumer := client.NewConsumer(backend.api(), "chat-1", true)
	if err := consumer.Load(context.Background()); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	controller := client.NewController(backend.api(), consumer)

	if _, err := controller.Reload(context.Background(), "m1"); !errors.Is(err, client.ErrNotTrailingTurn) {
		t.Fatalf("expected ErrNotTrailingTurn, got %v", err)
	}
	if _, err := controller.Reload(context.Background(), "m2"); !errors.Is(err, client.ErrNotTrailingTurn) {
		t.Fatalf("assistant messages cannot be re-issued, got %v", err)
	}
	if len(consumer.Messages()) != 4 {
		t.Fatal("refused rerun must not mutate the conversation")
	}
}
