package classify

import (
	"regexp"
	"strings"

	"github.com/ignite/dasher-monitor/internal/domain"
)

// ConfidenceThreshold is the floor for a rule result to stand on its own.
// Anything below it (or no match at all) is routed to the LLM tier.
const ConfidenceThreshold = 0.7

// bgcVendors are background-check providers whose sender triggers the
// stricter BGC rule group.
var bgcVendors = []string{"checkr", "onfido", "sterling", "accurate", "certn"}

// Adverse-action phrases in a BGC completion body. The first is the exact
// Checkr wording; the rest are regex variants matched against
// whitespace-collapsed text.
var (
	adverseExact    = "could potentially impact"
	adverseVariants = []*regexp.Regexp{
		regexp.MustCompile(`disqualif`),
		regexp.MustCompile(`may affect (?:\S+ )?eligibility`),
		regexp.MustCompile(`adverse(?: \S+){0,2} action`),
		regexp.MustCompile(`requir\w* (?:\S+ ){0,2}review`),
	}
)

// normalizeText lowercases and collapses whitespace runs to single spaces,
// so multi-word patterns match across line breaks.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func fromBGCVendor(sender string) bool {
	return containsAny(sender, bgcVendors...)
}

// FromBGCVendor reports whether the sender names a known background-check
// provider. Matching is case-insensitive over the full sender string, so
// both display names and addresses count.
func FromBGCVendor(sender string) bool {
	return fromBGCVendor(normalizeText(sender))
}

// AdverseAction scans a background-check completion body for adverse-action
// phrases. exact is true when the high-confidence Checkr wording matched
// rather than one of the looser variants.
func AdverseAction(body string) (adverse, exact bool) {
	b := normalizeText(body)
	if strings.Contains(b, adverseExact) {
		return true, true
	}
	for _, re := range adverseVariants {
		if re.MatchString(b) {
			return true, false
		}
	}
	return false, false
}

// ClassifyRules runs the ordered pattern bank over one message. The first
// matching rule wins. Returns nil when no rule applies; callers treat nil or
// confidence below ConfidenceThreshold as "ask the LLM".
func ClassifyRules(subject, sender, body string) *Result {
	subj := normalizeText(subject)
	sndr := normalizeText(sender)

	// Critical account events first.
	if strings.Contains(subj, "account has been deactivated") {
		return &Result{
			Category: domain.CategoryAccount, SubCategory: "deactivation",
			Confidence: 1.0,
			Summary:    "Dasher account has been deactivated",
			Urgency:    domain.UrgencyCritical, ActionRequired: true,
		}
	}

	if strings.Contains(subj, "reactivat") && (strings.Contains(subj, "dasher") || strings.Contains(sndr, "doordash")) {
		return &Result{
			Category: domain.CategoryAccount, SubCategory: "reactivation",
			Confidence: 0.9,
			Summary:    "Account reactivation notification",
			Urgency:    domain.UrgencyHigh, ActionRequired: true,
		}
	}

	if containsAny(subj, "contract violation", "violation notice") {
		return &Result{
			Category: domain.CategoryWarning, SubCategory: "contract_violation",
			Confidence: 0.95,
			Summary:    "Contract violation reported",
			Urgency:    domain.UrgencyCritical, ActionRequired: true,
		}
	}

	if strings.Contains(subj, "rating") && containsAny(subj, "warning", "low", "risk") {
		return &Result{
			Category: domain.CategoryWarning, SubCategory: "low_rating_warning",
			Confidence: 0.85,
			Summary:    "Low rating warning received",
			Urgency:    domain.UrgencyWarning, ActionRequired: true,
		}
	}

	// BGC completion: the body decides clear vs consider.
	if strings.Contains(subj, "background check is complete") {
		if adverse, _ := AdverseAction(body); adverse {
			return &Result{
				Category: domain.CategoryBGC, SubCategory: "consider",
				Confidence: 1.0,
				Summary:    "Background check complete with considerations",
				Urgency:    domain.UrgencyHigh, ActionRequired: true,
			}
		}
		return &Result{
			Category: domain.CategoryBGC, SubCategory: "clear",
			Confidence: 0.95,
			Summary:    "Background check completed clear",
			Urgency:    domain.UrgencyMedium, ActionRequired: false,
		}
	}

	// BGC vendor senders get the in-progress rule set.
	if fromBGCVendor(sndr) {
		if containsAny(subj,
			"background check is taking longer", "background check paused",
			"more information needed", "finish your personal check",
		) {
			return &Result{
				Category: domain.CategoryBGC, SubCategory: "pending",
				Confidence: 0.9,
				Summary:    "Background check in progress, action may be needed",
				Urgency:    domain.UrgencyMedium,
				ActionRequired: strings.Contains(subj, "more information"),
			}
		}
		if strings.Contains(subj, "background check") && !strings.Contains(subj, "complete") {
			return &Result{
				Category: domain.CategoryBGC, SubCategory: "submitted",
				Confidence: 0.85,
				Summary:    "Background check submitted/processing",
				Urgency:    domain.UrgencyLow, ActionRequired: false,
			}
		}
		if strings.Contains(subj, "identity") && strings.Contains(subj, "verified") {
			return &Result{
				Category: domain.CategoryBGC, SubCategory: "identity_verified",
				Confidence: 0.95,
				Summary:    "Identity verification completed",
				Urgency:    domain.UrgencyMedium, ActionRequired: false,
			}
		}
		if containsAny(subj, "agreed to checkr", "verify your email") {
			return &Result{
				Category: domain.CategoryBGC, SubCategory: "submitted",
				Confidence: 0.8,
				Summary:    "Background check consent/verification step",
				Urgency:    domain.UrgencyLow, ActionRequired: false,
			}
		}
	}

	// Identity verification from non-vendor senders.
	if (strings.Contains(subj, "identity") && strings.Contains(subj, "verified")) || strings.Contains(subj, "information verified") {
		return &Result{
			Category: domain.CategoryBGC, SubCategory: "identity_verified",
			Confidence: 0.9,
			Summary:    "Identity verification completed",
			Urgency:    domain.UrgencyMedium, ActionRequired: false,
		}
	}

	if strings.Contains(subj, "welcome") && (strings.Contains(subj, "dasher") || strings.Contains(sndr, "doordash")) {
		return &Result{
			Category: domain.CategoryAccount, SubCategory: "welcome",
			Confidence: 0.9,
			Summary:    "Welcome to DoorDash/Dasher",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	if strings.Contains(subj, "account") && strings.Contains(subj, "activat") && !strings.Contains(subj, "deactivat") {
		return &Result{
			Category: domain.CategoryAccount, SubCategory: "activation",
			Confidence: 0.85,
			Summary:    "Account activation notification",
			Urgency:    domain.UrgencyMedium, ActionRequired: false,
		}
	}

	// Earnings.
	if containsAny(subj, "your weekly pay", "weekly earnings", "pay statement") {
		return &Result{
			Category: domain.CategoryEarnings, SubCategory: "weekly_pay",
			Confidence: 0.95,
			Summary:    "Weekly pay statement",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "direct deposit", "fast pay transfer") {
		return &Result{
			Category: domain.CategoryEarnings, SubCategory: "direct_deposit",
			Confidence: 0.95,
			Summary:    "Direct deposit or fast pay notification",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "you earned", "your earnings", "earnings summary", "delivery summary") {
		return &Result{
			Category: domain.CategoryEarnings, SubCategory: "earnings_summary",
			Confidence: 0.9,
			Summary:    "Earnings or delivery summary",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "1099", "tax document", "tax form", "tax statement") {
		return &Result{
			Category: domain.CategoryEarnings, SubCategory: "tax_document",
			Confidence: 0.95,
			Summary:    "Tax document available",
			Urgency:    domain.UrgencyMedium, ActionRequired: true,
		}
	}

	// Operational.
	if containsAny(subj, "new dash available", "time to dash", "dash opportunity", "busy near you") {
		return &Result{
			Category: domain.CategoryOperational, SubCategory: "dash_opportunity",
			Confidence: 0.85,
			Summary:    "Dash opportunity available",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	if strings.Contains(subj, "rating") && strings.Contains(subj, "update") {
		return &Result{
			Category: domain.CategoryOperational, SubCategory: "rating_update",
			Confidence: 0.8,
			Summary:    "Rating update notification",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "policy update", "terms of service", "agreement update", "ica update") {
		return &Result{
			Category: domain.CategoryOperational, SubCategory: "policy_update",
			Confidence: 0.85,
			Summary:    "Policy or terms update",
			Urgency:    domain.UrgencyMedium, ActionRequired: true,
		}
	}

	if containsAny(subj, "promotion", "bonus", "challenge", "peak pay", "incentive", "prop 22") {
		return &Result{
			Category: domain.CategoryOperational, SubCategory: "promotion",
			Confidence: 0.8,
			Summary:    "Promotion or incentive notification",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	if containsAny(subj, "payment processed", "dasher pay", "dasher bank", "dasher welcome gift") {
		return &Result{
			Category: domain.CategoryEarnings, SubCategory: "direct_deposit",
			Confidence: 0.8,
			Summary:    "Payment or bank related notification",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "how was your experience", "survey", "feedback") {
		return &Result{
			Category: domain.CategoryOperational, SubCategory: "survey",
			Confidence: 0.7,
			Summary:    "Experience feedback request",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	if containsAny(subj, "insurance", "occupational accident") {
		return &Result{
			Category: domain.CategoryInsurance, SubCategory: "policy_info",
			Confidence: 0.8,
			Summary:    "Insurance coverage notification",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	if containsAny(subj, "scheduled dash", "dash schedule", "shift") {
		return &Result{
			Category: domain.CategoryScheduling, SubCategory: "shift_reminder",
			Confidence: 0.75,
			Summary:    "Dash scheduling notification",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	if containsAny(subj, "activation kit", "red card", "hot bag", "delivery bag") {
		sub := "delivery_bag"
		if strings.Contains(subj, "red card") {
			sub = "red_card"
		}
		return &Result{
			Category: domain.CategoryEquipment, SubCategory: sub,
			Confidence: 0.8,
			Summary:    "Equipment or activation kit notification",
			Urgency:    domain.UrgencyInfo, ActionRequired: false,
		}
	}

	// DoorDash sender but nothing matched: low confidence to force the
	// LLM fallback.
	if strings.Contains(sndr, "doordash") {
		return &Result{
			Category: domain.CategoryUnknown, SubCategory: "needs_review",
			Confidence: 0.5,
			Summary:    "Unclassified DoorDash email",
			Urgency:    domain.UrgencyLow, ActionRequired: false,
		}
	}

	return nil
}
