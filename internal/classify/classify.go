// Package classify implements the two-tier message classifier: an ordered
// rule bank evaluated first, then an LLM fallback for messages the rules
// cannot place with confidence. A scan-scoped template cache collapses
// repeated templates across inboxes so each template is classified once
// per scan.
package classify

import (
	"encoding/json"

	"github.com/ignite/dasher-monitor/internal/domain"
)

// Result is one classifier verdict before persistence. The rule tier fills
// the scalar fields only; the LLM tier additionally carries the model's
// key_details object and the raw response for audit.
type Result struct {
	Category       domain.Category
	SubCategory    string
	Confidence     float64
	Summary        string
	Urgency        domain.Urgency
	ActionRequired bool
	KeyDetails     json.RawMessage
	RawResponse    json.RawMessage
}
