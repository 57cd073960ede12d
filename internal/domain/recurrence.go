package domain

import (
	"fmt"
	"time"
)

// RecurrenceCycle is the outcome of evaluating a recurrent batch at an instant.
type RecurrenceCycle struct {
	Due bool
	Key string
}

// EvaluateRecurrence decides whether the cycle of a recurrent batch is due at
// now and computes the idempotency key identifying that cycle. Both instants
// must already be expressed in the scheduler's location. A template day that
// does not exist in the current month never matches.
func EvaluateRecurrence(batchID string, recurrency Recurrency, template time.Time, now time.Time) RecurrenceCycle {
	if timeOfDay(now) < timeOfDay(template) {
		return RecurrenceCycle{}
	}

	switch recurrency {
	case RecurrencyDaily:
		return RecurrenceCycle{
			Due: true,
			Key: fmt.Sprintf("%s_%s", batchID, now.Format(time.DateOnly)),
		}
	case RecurrencyWeekly:
		if now.Weekday() != template.Weekday() {
			return RecurrenceCycle{}
		}
		year, week := now.ISOWeek()
		return RecurrenceCycle{
			Due: true,
			Key: fmt.Sprintf("%s_%d_W%02d", batchID, year, week),
		}
	case RecurrencyMonthly:
		if now.Day() != template.Day() {
			return RecurrenceCycle{}
		}
		return RecurrenceCycle{
			Due: true,
			Key: fmt.Sprintf("%s_%d_%02d", batchID, now.Year(), int(now.Month())),
		}
	case RecurrencyAnnually:
		if now.Month() != template.Month() || now.Day() != template.Day() {
			return RecurrenceCycle{}
		}
		return RecurrenceCycle{
			Due: true,
			Key: fmt.Sprintf("%s_%d", batchID, now.Year()),
		}
	}

	return RecurrenceCycle{}
}

func timeOfDay(t time.Time) time.Duration {
	hour, minute, second := t.Clock()
	return time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second +
		time.Duration(t.Nanosecond())
}
