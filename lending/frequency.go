package lending

import "time"

// =============================================================================
// PAYMENT FREQUENCY - Installment cadence arithmetic
// =============================================================================

// PaymentFrequency determines the gap between consecutive installments.
// FrequencyMinute exists for end-to-end testing of the scheduling loop
// without waiting a day.
type PaymentFrequency string

const (
	FrequencyMinute   PaymentFrequency = "minute"
	FrequencyDaily    PaymentFrequency = "daily"
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyBiweekly PaymentFrequency = "biweekly"
	FrequencyMonthly  PaymentFrequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f PaymentFrequency) Valid() bool {
	switch f {
	case FrequencyMinute, FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// Next returns the due date one period after t.
func (f PaymentFrequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyMinute:
		return t.Add(time.Minute)
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t
	}
}

// CreationOffset is how long before its due date the next installment
// must already exist. The generation trigger fires this far ahead of the
// due date so installments are never due before they are created.
func (f PaymentFrequency) CreationOffset() time.Duration {
	switch f {
	case FrequencyMinute:
		return 30 * time.Second
	case FrequencyDaily:
		return 24 * time.Hour
	default:
		// Weekly and coarser cadences get a two-day head start.
		return 48 * time.Hour
	}
}

// DateOnly truncates t to its calendar date in UTC. Lateness checks
// compare dates, never clock times.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
