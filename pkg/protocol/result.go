package protocol

// Mode selects the upstream analysis route for a turn.
type Mode string

const (
	ModeDetection Mode = "detection"
	ModeAdvisor   Mode = "advisor"
)

// Valid reports whether the mode is one of the defined routes.
func (m Mode) Valid() bool {
	return m == ModeDetection || m == ModeAdvisor
}

// Query types surfaced to clients after classification.
const (
	QueryTypeFraudDetection = "fraud_detection"
	QueryTypeGreeting       = "greeting"
	QueryTypeCapability     = "capability"
	QueryTypeOffTopic       = "off_topic"
	QueryTypeGarbage        = "garbage"
	QueryTypeConversation   = "conversation"
)

// Fraud categories with dedicated client treatment. Upstream may report
// categories outside this set; those classify as fraud detection with the
// category left unset.
const (
	FraudTypeCreditCard = "credit_card"
	FraudTypeEmailSpam  = "email_spam"
	FraudTypeURLFraud   = "url_fraud"
	FraudTypeUPIFraud   = "upi_fraud"
	FraudTypeQRFraud    = "qr_fraud"
)

// Risk levels reported by the detection engine.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
	RiskNone     = "N/A"
)

// DetectionResult is the classified verdict for a detection-mode turn.
// The engine's internal detection_method field never appears here.
type DetectionResult struct {
	QueryType      string         `json:"queryType"`
	FraudType      string         `json:"fraudType,omitempty"`
	IsFraud        bool           `json:"isFraud"`
	Confidence     float64        `json:"confidence"`
	RiskLevel      string         `json:"riskLevel"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// AdvisorResult is the structured advice for an advisor-mode turn.
type AdvisorResult struct {
	Category        string   `json:"category,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Conclusion      string   `json:"conclusion,omitempty"`
}

// TurnResult is the terminal outcome of a turn, tagged by mode. Exactly one
// of Detection or Advisor is set.
type TurnResult struct {
	Mode      Mode             `json:"mode"`
	Detection *DetectionResult `json:"detection,omitempty"`
	Advisor   *AdvisorResult   `json:"advisor,omitempty"`
}
