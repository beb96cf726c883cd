package domain

import (
	"encoding/json"
	"time"
)

// Category is the top-level classification bucket for a message.
type Category string

const (
	CategoryBGC         Category = "bgc"
	CategoryAccount     Category = "account"
	CategoryEarnings    Category = "earnings"
	CategoryOperational Category = "operational"
	CategoryWarning     Category = "warning"
	CategoryInsurance   Category = "insurance"
	CategoryScheduling  Category = "scheduling"
	CategoryEquipment   Category = "equipment"
	CategoryUnknown     Category = "unknown"
)

// Source identifies which tier produced a classification. The _dedup
// variants mark rows copied from the scan-scoped template cache rather
// than computed for this specific message.
type Source string

const (
	SourceRules      Source = "rules"
	SourceAI         Source = "ai"
	SourceRulesDedup Source = "rules_dedup"
	SourceAIDedup    Source = "ai_dedup"
	SourceManual     Source = "manual"
	SourceError      Source = "error"
)

// Dedup returns the _dedup variant of a source. Sources that already
// carry the suffix (or that have no dedup form) are returned unchanged.
func (s Source) Dedup() Source {
	switch s {
	case SourceRules:
		return SourceRulesDedup
	case SourceAI:
		return SourceAIDedup
	}
	return s
}

// Urgency grades how quickly an operator should look at a message.
type Urgency string

const (
	UrgencyInfo     Urgency = "info"
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

// Classification is one persisted classification row. Uniqueness is
// enforced on (InboxID, MessageID).
type Classification struct {
	ID             string          `json:"id" db:"id"`
	InboxID        string          `json:"account_id" db:"account_id"`
	MessageID      string          `json:"message_id" db:"message_id"`
	Category       Category        `json:"category" db:"category"`
	SubCategory    string          `json:"sub_category" db:"sub_category"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	Source         Source          `json:"analysis_source" db:"analysis_source"`
	Summary        string          `json:"summary" db:"summary"`
	Urgency        Urgency         `json:"urgency" db:"urgency"`
	ActionRequired bool            `json:"action_required" db:"action_required"`
	KeyDetails     json.RawMessage `json:"key_details,omitempty" db:"key_details"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty" db:"raw_response"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ClampConfidence forces the confidence into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
