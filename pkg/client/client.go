// Package client is a Go library for the chat backend. It wraps the REST
// surface with typed calls, consumes turn streams, and drives the rendered
// conversation through a small state machine (see Consumer and Controller).
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

var (
	ErrNoCredential = errors.New("no detection credential configured")
	ErrChatNotFound = errors.New("chat not found")
)

// Identity names the caller. The backend trusts these headers; real
// authentication sits in front of it.
type Identity struct {
	ID       string
	Username string
	Email    string
}

// Chat mirrors the backend's chat document.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one rendered entry of the conversation. Streaming and Failed are
// local presentation state and never travel over the wire.
type Message struct {
	ID        string                    `json:"id"`
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	Image     string                    `json:"image,omitempty"`
	Mode      protocol.Mode             `json:"mode,omitempty"`
	Detection *protocol.DetectionResult `json:"detection,omitempty"`
	Advisor   *protocol.AdvisorResult   `json:"advisor,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`

	Streaming bool `json:"-"`
	Failed    bool `json:"-"`
}

// ChatSummary is the list view returned by ListChats.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TurnInput is one turn's worth of user input.
type TurnInput struct {
	Message string        `json:"message"`
	Mode    protocol.Mode `json:"mode"`
	Image   string        `json:"image,omitempty"`
	Replace bool          `json:"replace,omitempty"`
}

// Client is a typed HTTP client for one caller identity.
type Client struct {
	http *resty.Client
}

// New builds a client for the backend at baseURL acting as ident.
func New(baseURL string, ident Identity) *Client {
	c := resty.New()
	c.SetBaseURL(strings.TrimRight(baseURL, "/"))
	// Bound setup, not stream lifetime.
	c.SetTransport(&http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	})
	c.SetHeader("X-User-ID", ident.ID)
	if ident.Username != "" {
		c.SetHeader("X-Username", ident.Username)
	}
	if ident.Email != "" {
		c.SetHeader("X-User-Email", ident.Email)
	}
	return &Client{http: c}
}

// CreateChat provisions a new conversation.
func (c *Client) CreateChat(ctx context.Context) (Chat, error) {
	var out Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return Chat{}, apiError(resp)
	}
	return out, nil
}

// GetChat fetches a full conversation document.
func (c *Client) GetChat(ctx context.Context, chatID string) (Chat, error) {
	var out Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/chat/" + chatID)
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Chat{}, apiError(resp)
	}
	return out, nil
}

// ListChats returns the caller's active conversations.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var out []ChatSummary
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError(resp)
	}
	return out, nil
}

// DeleteChat removes a conversation from the caller's list.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/chat/" + chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// DeleteLastAssistant trims the trailing assistant reply server-side.
// Reports whether anything was removed; a user-message tail is a safe no-op.
func (c *Client) DeleteLastAssistant(ctx context.Context, chatID string) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Delete("/api/chat/" + chatID + "/last-assistant-message")
	if err != nil {
		return false, fmt.Errorf("delete last assistant: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, apiError(resp)
	}
	return out.Removed, nil
}

// PutCredential stores the caller's detection credential.
func (c *Client) PutCredential(ctx context.Context, credential string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"credential": credential}).
		Put("/api/credential")
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// OpenTurn submits one turn and returns the event stream for it. The stream
// is finite and non-restartable; callers must Close it in all cases.
func (c *Client) OpenTurn(ctx context.Context, chatID string, in TurnInput) (*TurnStream, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(in).
		SetDoNotParseResponse(true).
		Post("/api/chat/" + chatID + "/stream")
	if err != nil {
		return nil, fmt.Errorf("open turn: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer body.Close()
		msg := readErrorBody(body)
		switch resp.StatusCode() {
		case http.StatusPreconditionFailed:
			return nil, ErrNoCredential
		case http.StatusNotFound:
			return nil, ErrChatNotFound
		default:
			return nil, fmt.Errorf("open turn: status %d: %s", resp.StatusCode(), msg)
		}
	}

	return newTurnStream(body), nil
}

// TurnStream is the lazy sequence of events for one in-flight turn.
type TurnStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// Replies can carry multi-paragraph markdown; keep parser headroom.
const maxFrameSize = 1 << 20

func newTurnStream(body io.ReadCloser) *TurnStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &TurnStream{body: body, scanner: scanner}
}

// Recv blocks for the next event. Frames that fail to parse are skipped.
// Returns io.EOF once the relay closes the stream.
func (s *TurnStream) Recv() (protocol.StreamEvent, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev protocol.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		return ev, nil
	}

	if err := s.scanner.Err(); err != nil {
		return protocol.StreamEvent{}, err
	}
	return protocol.StreamEvent{}, io.EOF
}

// Close tears down the turn's connection. Safe to call more than once.
func (s *TurnStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func apiError(resp *resty.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(resp.Body(), &body)

	switch resp.StatusCode() {
	case http.StatusNotFound:
		return ErrChatNotFound
	case http.StatusPreconditionFailed:
		return ErrNoCredential
	}
	if body.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), body.Error)
	}
	return fmt.Errorf("status %d", resp.StatusCode())
}

func readErrorBody(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 512))
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}
