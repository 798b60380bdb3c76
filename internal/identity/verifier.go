// Package identity classifies callers. It holds two deliberately separate
// checks: a soft heuristic that recognizes the PLGN CLI by its identification
// string, and an exact-match admin secret for privileged routes. The
// heuristic is anti-abuse only and must never gate privileged operations.
package identity

import (
	"strings"
)

// DefaultMarkers are the identification-string fragments sent by the CLI.
var DefaultMarkers = []string{"plgn/", "plgn-cli"}

// ClientVerifier decides whether a request comes from a recognized client.
type ClientVerifier interface {
	IsRecognizedClient(identification string) bool
}

// UserAgentVerifier recognizes clients by case-insensitive substring match
// of any marker against the User-Agent string.
type UserAgentVerifier struct {
	markers []string
}

// NewUserAgentVerifier creates a verifier for the given markers, falling
// back to DefaultMarkers when none are given.
func NewUserAgentVerifier(markers ...string) *UserAgentVerifier {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m != "" {
			lowered = append(lowered, strings.ToLower(m))
		}
	}
	return &UserAgentVerifier{markers: lowered}
}

// IsRecognizedClient returns false for an empty string.
func (v *UserAgentVerifier) IsRecognizedClient(identification string) bool {
	if identification == "" {
		return false
	}
	ua := strings.ToLower(identification)
	for _, m := range v.markers {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}
