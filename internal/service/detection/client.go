package detection

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

var (
	ErrUpstreamUnreachable = errors.New("detection engine unreachable")
	ErrUpstreamStatus      = errors.New("detection engine rejected the request")
)

const (
	detectStreamPath  = "/api/detect/stream"
	advisorStreamPath = "/api/advisor/stream"

	// Frames can carry multi-paragraph markdown; keep parser headroom.
	maxFrameSize = 1 << 20
)

// Client opens one streaming request per turn against the external
// detection engine.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the engine at baseURL. The timeout bounds
// connection setup and headers, not the stream lifetime, so it is applied to
// the transport rather than the whole request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New()
	c.SetBaseURL(strings.TrimRight(baseURL, "/"))
	c.SetTransport(&http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	})
	c.SetHeader("Accept", "text/event-stream")

	return &Client{http: c}
}

// OpenTurn starts the streaming call for one turn, routed by mode. The
// returned stream is lazy, finite, and non-restartable; callers must Close
// it in all cases.
func (c *Client) OpenTurn(ctx context.Context, mode protocol.Mode, req TurnRequest) (*Stream, error) {
	path := detectStreamPath
	if mode == protocol.ModeAdvisor {
		path = advisorStreamPath
	}

	req.Stream = true

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamStatus, resp.StatusCode(), strings.TrimSpace(string(snippet)))
	}

	return newStream(body), nil
}

// Stream is the lazy sequence of engine events for one turn.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Stream{body: body, scanner: scanner}
}

// Recv blocks for the next event. Malformed frames are logged and skipped;
// losing one chunk beats killing the turn. Returns io.EOF once the engine
// closes the stream.
func (s *Stream) Recv() (Event, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Printf("[detection] dropping malformed frame: %v", err)
			continue
		}
		return ev, nil
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	return Event{}, io.EOF
}

// Close tears down the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
