package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/sotrian/sotrian/backend/internal/model/chat"
)

const (
	chatKeyPrefix  = "chat:"
	ownerKeyPrefix = "owner:"
	credKeyPrefix  = "cred:"
)

// BadgerStore implements ChatStore and CredentialStore on an embedded
// BadgerDB. Each chat is one JSON document; per-chat mutations run inside a
// single transaction, which makes the append and trailing-delete operations
// atomic.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// CreateChat provisions a chat with the default title.
func (s *BadgerStore) CreateChat(_ context.Context, ownerID string) (chat.Chat, error) {
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

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := writeChat(txn, c); err != nil {
			return err
		}
		return txn.Set(ownerKey(ownerID, c.ID), []byte(c.ID))
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// GetChat retrieves a chat by identifier.
func (s *BadgerStore) GetChat(_ context.Context, chatID string) (chat.Chat, error) {
	var c chat.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = readChat(txn, chatID)
		return err
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// ListChats returns the owner's active chats.
func (s *BadgerStore) ListChats(_ context.Context, ownerID string) ([]chat.Chat, error) {
	out := make([]chat.Chat, 0, 8)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(ownerKeyPrefix + ownerID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chatID string
			if err := it.Item().Value(func(val []byte) error {
				chatID = string(val)
				return nil
			}); err != nil {
				return err
			}

			c, err := readChat(txn, chatID)
			if errors.Is(err, ErrChatNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if c.Active {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage appends a message to the chat's ordered list.
func (s *BadgerStore) AppendMessage(_ context.Context, chatID string, msg chat.Message) (chat.Chat, error) {
	var c chat.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		c, err = readChat(txn, chatID)
		if err != nil {
			return err
		}
		appendMessage(&c, msg)
		return writeChat(txn, c)
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// ReplaceLastIfUser overwrites the trailing user message, or appends when the
// chat does not end with one.
func (s *BadgerStore) ReplaceLastIfUser(_ context.Context, chatID string, msg chat.Message) (chat.Chat, error) {
	var c chat.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		c, err = readChat(txn, chatID)
		if err != nil {
			return err
		}
		replaceLastIfUser(&c, msg)
		return writeChat(txn, c)
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// BeginTurn bumps the turn sequence and returns the new token.
func (s *BadgerStore) BeginTurn(_ context.Context, chatID string) (int64, error) {
	var token int64
	err := s.db.Update(func(txn *badger.Txn) error {
		c, err := readChat(txn, chatID)
		if err != nil {
			return err
		}
		c.TurnSeq++
		c.UpdatedAt = time.Now().UTC()
		token = c.TurnSeq
		return writeChat(txn, c)
	})
	if err != nil {
		return 0, err
	}
	return token, nil
}

// AppendAssistantMessage persists the reply when the token is still current.
func (s *BadgerStore) AppendAssistantMessage(_ context.Context, chatID string, msg chat.Message, token int64) (chat.Chat, error) {
	var c chat.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		c, err = readChat(txn, chatID)
		if err != nil {
			return err
		}
		if c.TurnSeq != token {
			return ErrTurnSuperseded
		}
		msg.Role = chat.RoleAssistant
		appendMessage(&c, msg)
		return writeChat(txn, c)
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// DeleteLastAssistant removes the trailing message only if it is a reply.
func (s *BadgerStore) DeleteLastAssistant(_ context.Context, chatID string) (bool, error) {
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		c, err := readChat(txn, chatID)
		if err != nil {
			return err
		}
		if removed = trimLastAssistant(&c); !removed {
			return nil
		}
		return writeChat(txn, c)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// UpdateTitle replaces the chat title.
func (s *BadgerStore) UpdateTitle(_ context.Context, chatID, title string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		c, err := readChat(txn, chatID)
		if err != nil {
			return err
		}
		c.Title = title
		c.UpdatedAt = time.Now().UTC()
		return writeChat(txn, c)
	})
}

// SoftDeleteChat clears the active flag without dropping the document.
func (s *BadgerStore) SoftDeleteChat(_ context.Context, chatID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		c, err := readChat(txn, chatID)
		if err != nil {
			return err
		}
		c.Active = false
		c.UpdatedAt = time.Now().UTC()
		return writeChat(txn, c)
	})
}

// PutCredential stores the opaque credential blob for a user.
func (s *BadgerStore) PutCredential(_ context.Context, userID string, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credKeyPrefix+userID), blob)
	})
}

// GetCredential fetches the opaque credential blob for a user.
func (s *BadgerStore) GetCredential(_ context.Context, userID string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credKeyPrefix + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCredentialNotFound
		}
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func chatKey(chatID string) []byte {
	return []byte(chatKeyPrefix + chatID)
}

func ownerKey(ownerID, chatID string) []byte {
	return []byte(ownerKeyPrefix + ownerID + ":" + chatID)
}

func readChat(txn *badger.Txn, chatID string) (chat.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return chat.Chat{}, err
	}

	var c chat.Chat
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	}); err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

func writeChat(txn *badger.Txn, c chat.Chat) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return txn.Set(chatKey(c.ID), data)
}
