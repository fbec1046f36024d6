package store

import (
	"context"
	"errors"

	"github.com/sotrian/sotrian/backend/internal/model/chat"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrTurnSuperseded     = errors.New("turn token superseded by a newer turn")
	ErrCredentialNotFound = errors.New("credential not found")
)

// ChatStore persists chat documents. Messages form an ordered list; appends
// and the trailing-assistant delete are atomic per chat.
type ChatStore interface {
	CreateChat(ctx context.Context, ownerID string) (chat.Chat, error)
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	ListChats(ctx context.Context, ownerID string) ([]chat.Chat, error)

	// AppendMessage appends one message and returns the updated chat.
	AppendMessage(ctx context.Context, chatID string, msg chat.Message) (chat.Chat, error)

	// ReplaceLastIfUser overwrites the trailing message's content when its
	// role is user (edit/reload re-issue), otherwise appends. The message
	// keeps its identifier so client references stay stable.
	ReplaceLastIfUser(ctx context.Context, chatID string, msg chat.Message) (chat.Chat, error)

	// BeginTurn bumps the chat's turn sequence and returns the new token.
	// A reply may only persist while its token is still current.
	BeginTurn(ctx context.Context, chatID string) (int64, error)

	// AppendAssistantMessage appends the reply for the turn identified by
	// token. Returns ErrTurnSuperseded when another turn has begun since.
	AppendAssistantMessage(ctx context.Context, chatID string, msg chat.Message, token int64) (chat.Chat, error)

	// DeleteLastAssistant removes the trailing message only when its role is
	// assistant. A no-op on empty chats or when the last message is a user
	// message; reports whether a message was removed.
	DeleteLastAssistant(ctx context.Context, chatID string) (bool, error)

	UpdateTitle(ctx context.Context, chatID, title string) error
	SoftDeleteChat(ctx context.Context, chatID string) error
}

// CredentialStore holds encrypted upstream credentials per user. The blobs
// are opaque here; decryption is the resolver's injected transform.
type CredentialStore interface {
	PutCredential(ctx context.Context, userID string, blob []byte) error
	GetCredential(ctx context.Context, userID string) ([]byte, error)
}
