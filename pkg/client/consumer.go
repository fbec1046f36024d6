package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

// Roles a rendered message can carry, matching the backend's.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// State of the consumer between turns.
type State int

const (
	// StateIdle accepts a new submission.
	StateIdle State = iota
	// StateSending means a turn was submitted but no response byte has
	// arrived yet.
	StateSending
	// StateStreaming means reply chunks are arriving.
	StateStreaming
)

// Outcome is how the last turn ended. Every outcome returns the consumer to
// idle.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeErrored
	OutcomeAborted
)

var (
	ErrTurnInFlight       = errors.New("a turn is already in flight")
	ErrCredentialRequired = errors.New("detection credential must be configured first")
)

// Consumer drives one conversation: it submits turns, consumes the event
// stream, and maintains the rendered message list the way a chat surface
// would show it. One turn runs at a time; Submit blocks until the turn
// reaches a terminal state. Cancel and the read accessors are safe to call
// from other goroutines.
type Consumer struct {
	api    *Client
	chatID string

	mu         sync.Mutex
	state      State
	messages   []Message
	cancel     context.CancelFunc
	aborted    bool
	credential bool
}

// NewConsumer binds a consumer to one chat. credentialConfigured gates
// submissions: without it, Submit refuses before any network call so the
// surface can route the user to credential setup instead.
func NewConsumer(api *Client, chatID string, credentialConfigured bool) *Consumer {
	return &Consumer{
		api:        api,
		chatID:     chatID,
		credential: credentialConfigured,
	}
}

// MarkCredentialConfigured unblocks submissions after credential setup.
func (c *Consumer) MarkCredentialConfigured() {
	c.mu.Lock()
	c.credential = true
	c.mu.Unlock()
}

// Load replaces the local message list with the server's view. Refused while
// a turn is in flight.
func (c *Consumer) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.mu.Unlock()

	chat, err := c.api.GetChat(ctx, c.chatID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.messages = chat.Messages
	c.mu.Unlock()
	return nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a snapshot of the rendered conversation.
func (c *Consumer) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Cancel aborts the in-flight turn, if any. The streaming placeholder is
// removed silently; nothing is rendered for an abort.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.aborted = true
		c.cancel()
	}
}

// Submit runs one turn to its terminal state: the user message renders
// immediately, an assistant placeholder appears once the response starts,
// chunks accumulate into it, and the terminal event finalizes it. Submission
// is refused while another turn is in flight or before a credential is
// configured.
func (c *Consumer) Submit(ctx context.Context, in TurnInput) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return OutcomeErrored, ErrTurnInFlight
	}
	if !c.credential {
		c.mu.Unlock()
		return OutcomeErrored, ErrCredentialRequired
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.state = StateSending
	c.aborted = false
	c.cancel = cancel
	c.upsertUserMessage(in)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.state = StateIdle
		c.cancel = nil
		c.mu.Unlock()
	}()

	stream, err := c.api.OpenTurn(turnCtx, c.chatID, in)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.aborted || errors.Is(err, context.Canceled) {
			return OutcomeAborted, nil
		}
		c.appendErrorBubble(in.Mode, "could not reach the conversation service")
		return OutcomeErrored, err
	}
	defer stream.Close()

	// First response byte: the reply placeholder appears and fills in place.
	c.mu.Lock()
	c.state = StateStreaming
	placeholder := len(c.messages)
	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Mode:      in.Mode,
		CreatedAt: time.Now().UTC(),
		Streaming: true,
	})
	c.mu.Unlock()

	return c.consume(stream, placeholder)
}

// consume reads the turn stream until it ends, mutating the placeholder at
// index pos.
func (c *Consumer) consume(stream *TurnStream, pos int) (Outcome, error) {
	completed := false

	for {
		ev, err := stream.Recv()
		if err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()

			if completed {
				return OutcomeCompleted, nil
			}
			if c.aborted {
				// User cancellation: the unfinished reply vanishes.
				c.messages = append(c.messages[:pos], c.messages[pos+1:]...)
				return OutcomeAborted, nil
			}

			// A dropped stream replaces whatever partial text was
			// rendered, matching how an explicit error event is shown.
			c.messages[pos].Streaming = false
			c.messages[pos].Failed = true
			c.messages[pos].Content = "connection to the conversation was lost"
			if errors.Is(err, io.EOF) {
				return OutcomeErrored, errors.New("stream ended without a terminal event")
			}
			return OutcomeErrored, err
		}

		c.mu.Lock()
		switch ev.Type {
		case protocol.EventContent:
			c.messages[pos].Content += ev.Content

		case protocol.EventComplete:
			c.messages[pos].Streaming = false
			if ev.Result != nil {
				c.messages[pos].Detection = ev.Result.Detection
				c.messages[pos].Advisor = ev.Result.Advisor
			}
			completed = true

		case protocol.EventError:
			if completed {
				// The reply finished but the backend could not save it;
				// flag the bubble rather than discarding the text.
				c.messages[pos].Failed = true
				c.mu.Unlock()
				return OutcomeCompleted, nil
			}
			c.messages[pos].Streaming = false
			c.messages[pos].Failed = true
			c.messages[pos].Content = ev.Error
			c.mu.Unlock()
			return OutcomeErrored, nil
		}
		c.mu.Unlock()
	}
}

// upsertUserMessage renders the user's turn optimistically. Re-issued turns
// overwrite the existing trailing user message so the count stays stable.
// Callers hold c.mu.
func (c *Consumer) upsertUserMessage(in TurnInput) {
	if in.Replace && len(c.messages) > 0 {
		last := &c.messages[len(c.messages)-1]
		if last.Role == RoleUser {
			last.Content = in.Message
			last.Image = in.Image
			last.Mode = in.Mode
			return
		}
	}

	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   in.Message,
		Image:     in.Image,
		Mode:      in.Mode,
		CreatedAt: time.Now().UTC(),
	})
}

// trimTrailingAssistant drops the trailing assistant bubble from the local
// view. Reports false when idle state or the tail does not allow it.
func (c *Consumer) trimTrailingAssistant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.messages)
	if c.state != StateIdle || n == 0 || c.messages[n-1].Role != RoleAssistant {
		return false
	}
	c.messages = c.messages[:n-1]
	return true
}

// trailingUserInput returns the trailing user message as re-issuable input.
func (c *Consumer) trailingUserInput() (TurnInput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.messages)
	if n == 0 || c.messages[n-1].Role != RoleUser {
		return TurnInput{}, false
	}
	last := c.messages[n-1]
	return TurnInput{
		Message: last.Content,
		Mode:    last.Mode,
		Image:   last.Image,
		Replace: true,
	}, true
}

// appendErrorBubble renders a failed turn. Callers hold c.mu.
func (c *Consumer) appendErrorBubble(mode protocol.Mode, text string) {
	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		Failed:    true,
	})
}
