// Package refresh schedules proactive access token refreshes. Firings are never closer
// together than MinIntervalFloor, whatever the token lifetime or configuration.
package refresh

import "time"

// MinIntervalFloor is the hard lower bound between two refresh firings.
const MinIntervalFloor = 60 * time.Second

// DefaultRefreshBefore is how long before expiry a refresh is attempted by default.
const DefaultRefreshBefore = 5 * time.Minute

// Plan is the token timing a schedule is computed from.
type Plan struct {
	RefreshToken string
	ExpiresAt    time.Time
	RefreshedAt  time.Time
}

// NextFireAt returns when the next refresh should fire:
//
//	max(expiresAt - refreshBefore, refreshedAt + floor, lastFiredAt + floor, now)
//
// Zero refreshedAt or lastFiredAt do not constrain the result. floor is raised to
// MinIntervalFloor when smaller.
func NextFireAt(p Plan, lastFiredAt, now time.Time, refreshBefore, floor time.Duration) time.Time {
	floor = clampFloor(floor)
	next := p.ExpiresAt.Add(-refreshBefore)
	if !p.RefreshedAt.IsZero() {
		next = later(next, p.RefreshedAt.Add(floor))
	}
	if !lastFiredAt.IsZero() {
		next = later(next, lastFiredAt.Add(floor))
	}
	return later(next, now)
}

func clampFloor(d time.Duration) time.Duration {
	if d < MinIntervalFloor {
		return MinIntervalFloor
	}
	return d
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
