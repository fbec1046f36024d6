package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

func fakeEngine(t *testing.T, wantPath string, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %s, want %s", r.URL.Path, wantPath)
		}

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag must be set")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			io.WriteString(w, frame)
		}
	}))
}

func TestOpenTurnRoutesByMode(t *testing.T) {
	srv := fakeEngine(t, "/api/advisor/stream", []string{
		"data: {\"type\":\"complete\",\"is_complete\":true}\n\n",
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	stream, err := c.OpenTurn(context.Background(), protocol.ModeAdvisor, TurnRequest{Query: "how do QR scams work"})
	if err != nil {
		t.Fatalf("OpenTurn err: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv err: %v", err)
	}
	if ev.Type != EventComplete {
		t.Fatalf("got event type %q", ev.Type)
	}
}

func TestStreamRecvSkipsMalformedFrames(t *testing.T) {
	srv := fakeEngine(t, "/api/detect/stream", []string{
		": keepalive comment\n\n",
		"data: {not json}\n\n",
		"data: {\"type\":\"start\"}\n\n",
		"data: {\"type\":\"content\",\"content\":\"Analyzing\"}\n\n",
		"data: {\"type\":\"complete\",\"is_complete\":true,\"result\":{\"fraud_type\":\"upi_fraud\",\"is_fraud\":true}}\n\n",
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	stream, err := c.OpenTurn(context.Background(), protocol.ModeDetection, TurnRequest{Query: "check this"})
	if err != nil {
		t.Fatalf("OpenTurn err: %v", err)
	}
	defer stream.Close()

	var types []string
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		types = append(types, ev.Type)
		if ev.Type == EventComplete {
			if ev.Result == nil || ev.Result.FraudType != "upi_fraud" {
				t.Fatalf("result not parsed: %+v", ev.Result)
			}
		}
	}

	want := []string{EventStart, EventContent, EventComplete}
	if len(types) != len(want) {
		t.Fatalf("got events %v want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got events %v want %v", types, want)
		}
	}
}

func TestOpenTurnSurfacesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.OpenTurn(context.Background(), protocol.ModeDetection, TurnRequest{Query: "check"})
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Fatalf("expected ErrUpstreamStatus, got %v", err)
	}
}

func TestOpenTurnUnreachableEngine(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := c.OpenTurn(context.Background(), protocol.ModeDetection, TurnRequest{Query: "check"})
	if !errors.Is(err, ErrUpstreamUnreachable) {
		t.Fatalf("expected ErrUpstreamUnreachable, got %v", err)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	srv := fakeEngine(t, "/api/detect/stream", nil)
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	stream, err := c.OpenTurn(context.Background(), protocol.ModeDetection, TurnRequest{Query: "check"})
	if err != nil {
		t.Fatalf("OpenTurn err: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("first Close err: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
}
