package stage

import (
	"github.com/ignite/dasher-monitor/internal/classify"
	"github.com/ignite/dasher-monitor/internal/domain"
)

// BodyCheck inspects a BGC completion body. Adverse-action language makes
// the verdict BGC_CONSIDER; the exact Checkr phrase is high confidence,
// the looser variants medium. A clean body confirms BGC_CLEAR.
func BodyCheck(body string) (domain.Stage, Confidence) {
	adverse, exact := classify.AdverseAction(body)
	if !adverse {
		return domain.StageBGCClear, ConfidenceHigh
	}
	if exact {
		return domain.StageBGCConsider, ConfidenceHigh
	}
	return domain.StageBGCConsider, ConfidenceMedium
}

// ApplyBodyCheck folds a body-check verdict into the detection. Body
// inspection only ever moves the stage upward, so a consider body promotes
// BGC_CLEAR while a clean one changes nothing.
func (d *Detection) ApplyBodyCheck(s domain.Stage, conf Confidence, h domain.EmailHeader) {
	d.promote(s, conf, h)
}
