package detection

import (
	"strings"

	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

// conversationalKinds maps the engine's non-fraud outcome kinds to the
// client-facing query types. Anything the engine invents later falls back to
// the generic conversation label; classification never fails a turn.
var conversationalKinds = map[string]string{
	"greeting":         protocol.QueryTypeGreeting,
	"capability":       protocol.QueryTypeCapability,
	"capability_query": protocol.QueryTypeCapability,
	"off_topic":        protocol.QueryTypeOffTopic,
	"garbage":          protocol.QueryTypeGarbage,
	"conversation":     protocol.QueryTypeConversation,
	"invalid_query":    protocol.QueryTypeConversation,
}

// fraudKinds are the concrete categories the engine reports. call_fraud is
// detected upstream but has no dedicated client rendering yet, so it stays
// out of displayedFraudTypes.
var fraudKinds = map[string]bool{
	protocol.FraudTypeCreditCard: true,
	protocol.FraudTypeEmailSpam:  true,
	protocol.FraudTypeURLFraud:   true,
	protocol.FraudTypeUPIFraud:   true,
	protocol.FraudTypeQRFraud:    true,
	"call_fraud":                 true,
}

// displayedFraudTypes are the categories clients render with dedicated
// treatment; other categories keep the fraud_detection query type with the
// category unset.
var displayedFraudTypes = map[string]bool{
	protocol.FraudTypeCreditCard: true,
	protocol.FraudTypeEmailSpam:  true,
	protocol.FraudTypeURLFraud:   true,
	protocol.FraudTypeUPIFraud:   true,
	protocol.FraudTypeQRFraud:    true,
}

// Classify maps the engine's terminal verdict to the client-facing result.
// Total: every outcome kind maps to exactly one query type.
func Classify(mode protocol.Mode, res EngineResult) *protocol.TurnResult {
	if mode == protocol.ModeAdvisor {
		return &protocol.TurnResult{
			Mode: protocol.ModeAdvisor,
			Advisor: &protocol.AdvisorResult{
				Category:        res.QueryCategory,
				Analysis:        res.Analysis,
				Recommendations: res.Recommendations,
				Conclusion:      res.Conclusion,
			},
		}
	}

	kind := strings.ToLower(strings.TrimSpace(res.FraudType))

	out := &protocol.DetectionResult{
		IsFraud:        res.IsFraud,
		Confidence:     res.Confidence,
		RiskLevel:      res.RiskLevel,
		Reasoning:      res.Reasoning,
		Recommendation: res.Recommendation,
		Details:        res.Details,
	}
	if out.RiskLevel == "" {
		out.RiskLevel = protocol.RiskNone
	}

	switch {
	case conversationalKinds[kind] != "":
		out.QueryType = conversationalKinds[kind]
	case fraudKinds[kind]:
		out.QueryType = protocol.QueryTypeFraudDetection
		if displayedFraudTypes[kind] {
			out.FraudType = kind
		}
	default:
		out.QueryType = protocol.QueryTypeConversation
	}

	return &protocol.TurnResult{Mode: protocol.ModeDetection, Detection: out}
}
