package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TimeScope is a named recency window used to filter retrieval by publish
// time. The window is resolved against an explicit reference instant, not
// an ambient clock read, so retrieval stays reproducible.
type TimeScope string

const (
	TimeScopeDaily   TimeScope = "daily"
	TimeScopeWeekly  TimeScope = "weekly"
	TimeScopeMonthly TimeScope = "monthly"
)

// DefaultTimeScope is used when the generation step omits the argument
const DefaultTimeScope = TimeScopeMonthly

// Validate checks if the time scope is valid
func (s TimeScope) Validate() error {
	switch s {
	case TimeScopeDaily, TimeScopeWeekly, TimeScopeMonthly:
		return nil
	default:
		return goerr.New("invalid time scope", goerr.V("time_scope", s))
	}
}

// Window returns the duration covered by the scope
func (s TimeScope) Window() time.Duration {
	switch s {
	case TimeScopeDaily:
		return 24 * time.Hour
	case TimeScopeWeekly:
		return 7 * 24 * time.Hour
	default:
		// monthly approximated as 30 days
		return 30 * 24 * time.Hour
	}
}

// Cutoff resolves the minimum accepted publish time against ref.
// Articles satisfy the scope when PublishedAt >= Cutoff(ref).
func (s TimeScope) Cutoff(ref time.Time) time.Time {
	return ref.Add(-s.Window())
}
