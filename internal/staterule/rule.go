// Package staterule derives the desired lit-state for a lamp. It is a pure
// computation: the caller supplies the lamp, its schedule, whether an active
// access grant exists, and the branch-local reference time.
package staterule

import (
	"time"

	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/parse"
)

// DefaultGrace is the margin applied on each side of the working window when
// no explicit grace is configured.
const DefaultGrace = time.Hour

// Grace holds the margins applied before the window start and after its end.
type Grace struct {
	Before time.Duration
	After  time.Duration
}

// DefaultGraces returns the 1h/1h default margins.
func DefaultGraces() Grace {
	return Grace{Before: DefaultGrace, After: DefaultGrace}
}

// Desired returns the lit-state a lamp should have at the given branch-local
// instant. Checks are ordered by priority, first match wins:
//
//  1. an active access grant forces ON;
//  2. a manual override with a set state is returned verbatim;
//  3. a deactivated lamp is OFF;
//  4. a missing or unparsable schedule is OFF;
//  5. otherwise ON iff now falls inside the grace-extended working window.
func Desired(lamp *model.Lamp, schedule *model.Schedule, activeGrant bool, now time.Time, grace Grace) bool {
	if activeGrant {
		return true
	}

	if lamp.OverrideEnabled && lamp.OverrideState != nil {
		return *lamp.OverrideState
	}

	if !lamp.Active {
		return false
	}

	if schedule == nil {
		return false
	}

	start, err := parse.Clock(schedule.WorkStart)
	if err != nil {
		return false
	}

	end := parse.EndOfDay
	if schedule.EndEnabled {
		end, err = parse.Clock(schedule.WorkEnd)
		if err != nil {
			return false
		}
	}

	// Extend by grace, clamped to the day. The window never wraps midnight.
	effStart := start - grace.Before
	if effStart < 0 {
		effStart = 0
	}
	effEnd := end + grace.After
	if effEnd > parse.EndOfDay {
		effEnd = parse.EndOfDay
	}

	tod := parse.ClockOf(now)
	return tod >= effStart && tod <= effEnd
}
