// Package fingerprint reduces email subjects and senders to stable template
// keys. Two messages with the same fingerprint are instances of the same
// template filled with different per-recipient variables (names, amounts,
// dates) and are treated as classification-equivalent.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	amountRE = regexp.MustCompile(`\$[\d,.]+`)
	// Date patterns from most specific to least specific.
	dateMonthFullRE = regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,?\s+\d{4})?\b`)
	dateMonDayRE    = regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2}\b`)
	dateISORE       = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	dateSlashRE     = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}([/-]\d{2,4})?\b`)
	yearRE          = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	// Greeting names need 3+ letters to reduce false positives ("Hi there"
	// stays, "Hi John" collapses). Capitalisation is the name signal, so this
	// rule runs on the raw subject and its placeholder folds to lowercase
	// with the rest.
	greetingRE = regexp.MustCompile(`\b(Hi|Hello|Hey|Dear)\s+[A-Z][a-z]{2,}`)
	numRE      = regexp.MustCompile(`\b\d{4,}\b`)
)

// NormalizeSubject strips per-recipient variables from a subject so that all
// instantiations of one template normalise to the same string.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = greetingRE.ReplaceAllString(s, "GREETING")
	s = strings.ToLower(s)
	s = amountRE.ReplaceAllLiteralString(s, "$X")
	s = dateMonthFullRE.ReplaceAllString(s, "DATE")
	s = dateMonDayRE.ReplaceAllString(s, "DATE")
	s = dateISORE.ReplaceAllString(s, "DATE")
	s = dateSlashRE.ReplaceAllString(s, "DATE")
	s = yearRE.ReplaceAllString(s, "YEAR")
	s = numRE.ReplaceAllString(s, "NUM")
	return s
}

// SenderDomain extracts the lowercased domain from a sender string that may
// carry a display name ("DoorDash <no-reply@doordash.com>").
func SenderDomain(sender string) string {
	if i := strings.LastIndex(sender, "<"); i >= 0 {
		sender = strings.TrimSuffix(sender[i+1:], ">")
	}
	if i := strings.LastIndex(sender, "@"); i >= 0 {
		return strings.ToLower(sender[i+1:])
	}
	return strings.ToLower(sender)
}

// Make builds the template key for a subject/sender pair: the first 16 hex
// characters of SHA-256 over "domain|normalised_subject".
func Make(subject, sender string) string {
	sum := sha256.Sum256([]byte(SenderDomain(sender) + "|" + NormalizeSubject(subject)))
	return hex.EncodeToString(sum[:])[:16]
}
