package classify

import "unicode/utf8"

const (
	truncateMax  = 2000
	truncateHead = 1500
	truncateTail = 500
	truncateMark = "\n...[truncated]...\n"
)

// SmartTruncate caps a body at 2,000 bytes, keeping the first 1,500 and the
// last 500 so both the opening context and any closing action language
// survive for the classifiers.
func SmartTruncate(body string) string {
	if len(body) <= truncateMax {
		return body
	}
	return body[:truncateHead] + truncateMark + body[len(body)-truncateTail:]
}

// cutRunes caps s at max bytes, backing off to the nearest rune boundary
// so a multi-byte character is never split.
func cutRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
