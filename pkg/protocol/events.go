package protocol

// Event types carried on the turn stream. No other types are defined;
// consumers must skip frames they cannot parse.
const (
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one frame of the turn stream between relay and client.
type StreamEvent struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	Result  *TurnResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
