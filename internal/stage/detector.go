// Package stage derives an inbox's lifecycle position from its message
// headers. Detection is a pure pass over subjects and senders; only the
// deferred BGC body check reaches back out for message content.
package stage

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ignite/dasher-monitor/internal/classify"
	"github.com/ignite/dasher-monitor/internal/domain"
)

// Confidence grades how specific the winning signal was: exact phrase,
// regex variant, or generic vendor mention. Advisory only; promotions are
// gated on stage priority, never on confidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection is the outcome of one detector pass over an inbox's headers.
type Detection struct {
	Stage          domain.Stage
	Confidence     Confidence
	TriggerSubject string
	TriggerDate    *time.Time
	Reactivated    bool

	// NeedsBodyCheck lists BGC completion messages whose body decides
	// clear vs consider. The caller fetches each body, runs BodyCheck
	// and folds the verdict back in with ApplyBodyCheck.
	NeedsBodyCheck []domain.EmailHeader
}

// Active signals are payment and completed-delivery subjects. Promotional
// subjects ("how was your experience", "time to dash", "maximize your
// earnings") reach pre-active accounts too and are not in the set.
var activeLiterals = []string{
	"payment processed",
	"pay statement",
	"fast pay transfer",
	"dasher welcome gift",
}

var activeVariants = []*regexp.Regexp{
	regexp.MustCompile(`first dash (?:is )?(?:done|complete|finished)`),
	regexp.MustCompile(`congratulations.* first dash`),
	regexp.MustCompile(`you completed .*dash`),
}

var bgcPendingLiterals = []string{
	"background check is taking longer",
	"background check paused",
	"more information needed",
	"let's find your background check",
	"agreed to checkr",
	"verify your email",
	"finish your personal check",
}

var reactivationSoft = []string{"welcome back", "account restored"}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func senderOf(h domain.EmailHeader) string {
	if h.From != "" {
		return h.From
	}
	return h.Sender
}

// Detect runs the signal pass over an inbox's headers, newest first.
// Headers with no parseable date sort last, so dated evidence always wins
// over undated. An empty input yields REGISTERED at low confidence.
func Detect(headers []domain.EmailHeader) Detection {
	msgs := make([]domain.EmailHeader, len(headers))
	copy(msgs, headers)
	sort.SliceStable(msgs, func(i, j int) bool {
		di, dj := msgs[i].Date, msgs[j].Date
		if di == nil {
			return false
		}
		if dj == nil {
			return true
		}
		return di.After(*dj)
	})

	det := Detection{Stage: domain.StageRegistered, Confidence: ConfidenceLow}
	for _, m := range msgs {
		subj := normalize(m.Subject)
		sndr := normalize(senderOf(m))

		if conf, ok := reactivationSignal(subj); ok {
			det.Reactivated = true
			det.promote(domain.StageActive, conf, m)
			continue
		}
		if strings.Contains(subj, "account has been deactivated") && !det.Reactivated {
			// Nothing outranks DEACTIVATED, so the rest of the pass
			// and any pending body checks are moot.
			det.Stage = domain.StageDeactivated
			det.Confidence = ConfidenceHigh
			det.TriggerSubject = m.Subject
			det.TriggerDate = m.Date
			det.NeedsBodyCheck = nil
			return det
		}
		if conf, ok := activeSignal(subj); ok {
			det.promote(domain.StageActive, conf, m)
			continue
		}
		if strings.Contains(subj, "background check is complete") {
			det.NeedsBodyCheck = append(det.NeedsBodyCheck, m)
			det.promote(domain.StageBGCClear, ConfidenceHigh, m)
			continue
		}
		if conf, ok := bgcPendingSignal(subj, sndr); ok {
			det.promote(domain.StageBGCPending, conf, m)
			continue
		}
		if conf, ok := identitySignal(subj); ok {
			det.promote(domain.StageIdentityVerified, conf, m)
		}
	}
	return det
}

// promote raises the detected stage when the candidate outranks it.
func (d *Detection) promote(s domain.Stage, conf Confidence, h domain.EmailHeader) {
	if s.Priority() <= d.Stage.Priority() {
		return
	}
	d.Stage = s
	d.Confidence = conf
	d.TriggerSubject = h.Subject
	d.TriggerDate = h.Date
}

func reactivationSignal(subj string) (Confidence, bool) {
	if strings.Contains(subj, "reactivat") {
		return ConfidenceHigh, true
	}
	for _, p := range reactivationSoft {
		if strings.Contains(subj, p) {
			return ConfidenceMedium, true
		}
	}
	return "", false
}

func activeSignal(subj string) (Confidence, bool) {
	for _, p := range activeLiterals {
		if strings.Contains(subj, p) {
			return ConfidenceHigh, true
		}
	}
	for _, re := range activeVariants {
		if re.MatchString(subj) {
			return ConfidenceMedium, true
		}
	}
	return "", false
}

func bgcPendingSignal(subj, sndr string) (Confidence, bool) {
	if !classify.FromBGCVendor(sndr) {
		return "", false
	}
	for _, p := range bgcPendingLiterals {
		if strings.Contains(subj, p) {
			return ConfidenceMedium, true
		}
	}
	if strings.Contains(subj, "background check") && !strings.Contains(subj, "complete") {
		return ConfidenceLow, true
	}
	return "", false
}

func identitySignal(subj string) (Confidence, bool) {
	if strings.Contains(subj, "identity") && strings.Contains(subj, "verified") {
		return ConfidenceMedium, true
	}
	if strings.Contains(subj, "information verified") {
		return ConfidenceMedium, true
	}
	if strings.Contains(subj, "identity verification") && strings.Contains(subj, "complete") {
		return ConfidenceMedium, true
	}
	return "", false
}
