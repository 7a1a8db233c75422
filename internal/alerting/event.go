package alerting

import (
	"strings"
	"time"
)

// Severity orders alert importance.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityRecovery Severity = "recovery"
)

// Event is the only artifact a monitor hands to the router.
type Event struct {
	Severity  Severity
	Key       string
	Message   string
	Timestamp time.Time
}

// NewEvent stamps an event.
func NewEvent(severity Severity, key, message string, at time.Time) Event {
	return Event{Severity: severity, Key: key, Message: message, Timestamp: at}
}

// Family returns the part of key before the first ':'. Keys carrying an
// entity ID share their family, which keeps metric label sets bounded.
func Family(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
