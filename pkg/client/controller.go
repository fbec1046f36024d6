package client

import (
	"context"
	"errors"
)

var (
	ErrMessageNotFound = errors.New("message not found in the conversation")
	ErrNotTrailingTurn = errors.New("only the trailing turn can be re-issued")
)

// Controller layers reload and edit on top of a Consumer. Both operate on
// the trailing turn only: the old assistant reply is discarded locally and
// server-side, then a fresh turn is issued so the conversation keeps the
// same message count with a new reply in place. An assistant message never
// survives a rerun of the user message that preceded it.
type Controller struct {
	api      *Client
	consumer *Consumer
}

// NewController binds a controller to a consumer's conversation.
func NewController(api *Client, consumer *Consumer) *Controller {
	return &Controller{api: api, consumer: consumer}
}

// Reload re-runs the turn for the given user message with the same text.
func (t *Controller) Reload(ctx context.Context, userMessageID string) (Outcome, error) {
	return t.rerun(ctx, userMessageID, func(in TurnInput) TurnInput { return in })
}

// Edit overwrites the user message's text and requests a fresh reply for it.
// The message keeps its position; the edited text is a brand-new turn, not a
// patch spliced into history.
func (t *Controller) Edit(ctx context.Context, userMessageID, newText string) (Outcome, error) {
	return t.rerun(ctx, userMessageID, func(in TurnInput) TurnInput {
		in.Message = newText
		return in
	})
}

// rerun discards the assistant reply trailing the given user message,
// applies revise to the turn input, and re-issues it. Deleting server-side
// is idempotent, so a reply that was never persisted (an error bubble) is a
// safe no-op there.
func (t *Controller) rerun(ctx context.Context, userMessageID string, revise func(TurnInput) TurnInput) (Outcome, error) {
	if t.consumer.State() != StateIdle {
		return OutcomeErrored, ErrTurnInFlight
	}

	if err := t.checkTrailingTurn(userMessageID); err != nil {
		return OutcomeErrored, err
	}

	if t.consumer.trimTrailingAssistant() {
		if _, err := t.api.DeleteLastAssistant(ctx, t.consumer.chatID); err != nil {
			return OutcomeErrored, err
		}
	}

	in, ok := t.consumer.trailingUserInput()
	if !ok {
		return OutcomeErrored, ErrNotTrailingTurn
	}

	return t.consumer.Submit(ctx, revise(in))
}

// checkTrailingTurn verifies the message exists, is a user message, and
// belongs to the trailing turn: the last message, or the one directly before
// a trailing assistant reply.
func (t *Controller) checkTrailingTurn(userMessageID string) error {
	msgs := t.consumer.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID != userMessageID {
			continue
		}
		if msgs[i].Role != RoleUser {
			return ErrNotTrailingTurn
		}
		trailing := i == len(msgs)-1 ||
			(i == len(msgs)-2 && msgs[len(msgs)-1].Role == RoleAssistant)
		if !trailing {
			return ErrNotTrailingTurn
		}
		return nil
	}
	return ErrMessageNotFound
}
