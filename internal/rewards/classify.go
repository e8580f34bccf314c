package rewards

import (
	"errors"
	"net/http"
	"strings"
)

// RiskError is a remote signal indicating suspension, rate-limiting, or
// required verification. Accounts hitting it move to the sticky risk status.
type RiskError struct {
	StatusCode int
	Marker     string
}

func (e *RiskError) Error() string {
	var b strings.Builder
	b.WriteString("risk signal")
	if e.StatusCode != 0 {
		b.WriteString(" (http ")
		b.WriteString(http.StatusText(e.StatusCode))
		b.WriteString(")")
	}
	if e.Marker != "" {
		b.WriteString(": ")
		b.WriteString(e.Marker)
	}
	return b.String()
}

// Fatal reports whether the signal must abort the run even under ignoreRisk.
// Only an explicit suspension marker qualifies; a bare 403/429 is a soft
// signal that ignoreRisk is allowed to continue past.
func (e *RiskError) Fatal() bool {
	return strings.Contains(strings.ToLower(e.Marker), "suspend")
}

// softMarkers are body substrings treated as risk signals. Checked
// case-insensitively against the raw response body.
var softMarkers = []string{
	"suspended",
	"suspend",
	"risk",
	"verify your account",
	"verification required",
	"unusual activity",
}

// classifyResponse inspects status code and body of a remote reply and
// returns a *RiskError for risk signals, a plain error for other failures,
// and nil for success.
func classifyResponse(statusCode int, body []byte) error {
	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return &RiskError{StatusCode: statusCode, Marker: markerIn(body)}
	}
	if m := markerIn(body); m != "" {
		return &RiskError{Marker: m}
	}
	if statusCode < 200 || statusCode > 299 {
		return errors.New("unexpected status " + http.StatusText(statusCode))
	}
	return nil
}

func markerIn(body []byte) string {
	low := strings.ToLower(string(body))
	for _, m := range softMarkers {
		if strings.Contains(low, m) {
			return m
		}
	}
	return ""
}

// IsRisk reports whether err carries a risk signal. It also matches wrapped
// errors whose message mentions suspension or risk, so failures surfaced by
// collaborators classify the same way.
func IsRisk(err error) bool {
	if err == nil {
		return false
	}
	var re *RiskError
	if errors.As(err, &re) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "risk") || strings.Contains(msg, "suspend")
}

// IsFatalRisk reports whether err is a risk signal that aborts the run even
// when the account has ignoreRisk set.
func IsFatalRisk(err error) bool {
	var re *RiskError
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return false
}
