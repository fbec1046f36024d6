package detection

// Upstream event kinds. The engine also emits "start" frames, which carry no
// content and are consumed without being relayed.
const (
	EventStart    = "start"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one frame from the detection engine's stream.
type Event struct {
	Type       string        `json:"type"`
	Content    string        `json:"content"`
	IsComplete bool          `json:"is_complete"`
	Result     *EngineResult `json:"result"`
	Error      string        `json:"error"`
}

// EngineResult is the engine's raw terminal verdict. Detection turns fill
// the fraud fields; advisor turns fill the advice fields. DetectionMethod is
// internal to the engine and is stripped before anything reaches a client.
type EngineResult struct {
	FraudType        string         `json:"fraud_type"`
	IsFraud          bool           `json:"is_fraud"`
	Confidence       float64        `json:"confidence"`
	RiskLevel        string         `json:"risk_level"`
	DetectionMethod  string         `json:"detection_method"`
	Reasoning        string         `json:"reasoning"`
	Recommendation   string         `json:"recommendation"`
	Details          map[string]any `json:"details"`
	FormattedMessage string         `json:"formatted_message"`

	QueryCategory   string   `json:"query_category"`
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
	Conclusion      string   `json:"conclusion"`
}

// UserContext identifies the querying user to the engine.
type UserContext struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TurnRequest is the engine-facing request for one turn.
type TurnRequest struct {
	Query        string      `json:"query"`
	GoogleAPIKey string      `json:"google_api_key"`
	UserInfo     UserContext `json:"user_info"`
	SessionID    string      `json:"session_id,omitempty"`
	Image        string      `json:"image,omitempty"`
	Stream       bool        `json:"stream"`
}
