package matching

import (
	"regexp"
	"strings"
)

// CorrelationMarker prefixes the GoHighLevel contact id inside ServiceM8 job descriptions.
const CorrelationMarker = "GHL Contact ID: "

var correlationPattern = regexp.MustCompile(`GHL Contact ID: ([a-zA-Z0-9]+)`)

// EmbedCorrelation renders the marker line for contactID.
func EmbedCorrelation(contactID string) string {
	return CorrelationMarker + strings.TrimSpace(contactID)
}

// ExtractCorrelation returns the contact id embedded in text, if any.
func ExtractCorrelation(text string) (string, bool) {
	match := correlationPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}
