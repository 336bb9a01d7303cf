package quota

import (
	"fmt"
	"time"
)

// Period is the recurring interval over which request counts are capped.
// Only whole days are supported.
type Period string

const PeriodDay Period = "day"

// ParsePeriod validates a period name from configuration.
func ParsePeriod(s string) (Period, error) {
	if Period(s) != PeriodDay {
		return "", fmt.Errorf("unknown quota period %q, only \"day\" is supported", s)
	}
	return PeriodDay, nil
}

// Length returns the window duration.
func (p Period) Length() time.Duration {
	return 24 * time.Hour
}

// WindowID identifies the window containing t. Day windows begin at
// midnight UTC regardless of server timezone; the identifier is the UTC
// date. Counters reset lazily when the stored window identifier differs
// from the current one, so no sweep of expired windows is needed.
func (p Period) WindowID(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
