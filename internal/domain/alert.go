package domain

import "time"

// Severity grades an operator alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// StageAlertSeverity maps a newly reached stage to its alert severity:
// critical for DEACTIVATED, warning for BGC_CONSIDER, info otherwise.
func StageAlertSeverity(s Stage) Severity {
	switch s {
	case StageDeactivated:
		return SeverityCritical
	case StageBGCConsider:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is an operator-facing notification created by the scanner on
// stage promotions and on critical classifications. Only the read flag
// and its companions mutate after creation.
type Alert struct {
	ID        string     `json:"id" db:"id"`
	InboxID   string     `json:"account_id" db:"account_id"`
	AlertType string     `json:"alert_type" db:"alert_type"`
	Severity  Severity   `json:"severity" db:"severity"`
	Title     string     `json:"title" db:"title"`
	Message   string     `json:"message" db:"message"`
	IsRead    bool       `json:"is_read" db:"is_read"`
	ReadBy    string     `json:"read_by" db:"read_by"`
	ReadAt    *time.Time `json:"read_at" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Alert types written by the scanner.
const (
	AlertTypeStageChange   = "stage_change"
	AlertTypeCriticalEmail = "critical_email"
)
