package schedule

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/util"
)

func at(layout string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", layout, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func requireNext(t *testing.T, r Recurrence, now time.Time, want string) {
	t.Helper()
	next := ComputeNextRun(r, now)
	require.NotNil(t, next, "expected a next run for %+v at %s", r, now)
	assert.Equal(t, at(want), *next)
}

func TestImmediateReturnsNow(t *testing.T) {
	now := at("2024-03-10 12:00")
	next := ComputeNextRun(Recurrence{Kind: KindImmediate}, now)
	require.NotNil(t, next)
	assert.Equal(t, now, *next)
}

func TestOneTime(t *testing.T) {
	now := at("2024-03-10 12:00")
	future := at("2024-03-11 08:00")
	requireNext(t, Recurrence{Kind: KindOneTime, StartAt: &future}, now, "2024-03-11 08:00")

	assert.Nil(t, ComputeNextRun(Recurrence{Kind: KindOneTime, StartAt: &now}, now), "start equal to now is spent")
	past := at("2024-03-09 08:00")
	assert.Nil(t, ComputeNextRun(Recurrence{Kind: KindOneTime, StartAt: &past}, now))
}

func TestDaily(t *testing.T) {
	r := Recurrence{Kind: KindDaily, Time: "04:00"}
	requireNext(t, r, at("2024-03-10 03:59"), "2024-03-10 04:00")
	requireNext(t, r, at("2024-03-10 04:00"), "2024-03-11 04:00")
	requireNext(t, r, at("2024-12-31 23:00"), "2025-01-01 04:00")
}

func TestWeeklyMondayFromTuesday(t *testing.T) {
	r := Recurrence{Kind: KindWeekly, Time: "04:00", Day: "monday"}
	// 2024-01-02 is a Tuesday
	requireNext(t, r, at("2024-01-02 10:00"), "2024-01-08 04:00")
}

func TestWeeklySameDay(t *testing.T) {
	r := Recurrence{Kind: KindWeekly, Time: "04:00", Day: "Mon"}
	requireNext(t, r, at("2024-01-01 03:00"), "2024-01-01 04:00")
	requireNext(t, r, at("2024-01-01 04:00"), "2024-01-08 04:00")
	requireNext(t, r, at("2024-01-01 09:00"), "2024-01-08 04:00")
}

func TestMonthlyDay31Clipping(t *testing.T) {
	r := Recurrence{Kind: KindMonthly, Time: "04:00", Day: "31"}

	// April has 30 days
	requireNext(t, r, at("2024-04-15 10:00"), "2024-04-30 04:00")
	// Once that passes, roll to May 31
	requireNext(t, r, at("2024-04-30 05:00"), "2024-05-31 04:00")
	// And from May 31 to June 30
	requireNext(t, r, at("2024-05-31 05:00"), "2024-06-30 04:00")
	// December rolls into the next year
	requireNext(t, r, at("2024-12-31 05:00"), "2025-01-31 04:00")
	// Leap year February
	requireNext(t, r, at("2024-02-01 00:00"), "2024-02-29 04:00")
	requireNext(t, r, at("2023-02-01 00:00"), "2023-02-28 04:00")
}

func TestYearlyFeb29(t *testing.T) {
	r := Recurrence{Kind: KindYearly, Time: "04:00", Day: "29", Month: 2}

	requireNext(t, r, at("2023-01-10 00:00"), "2023-02-28 04:00")
	requireNext(t, r, at("2023-03-01 00:00"), "2024-02-29 04:00")
	requireNext(t, r, at("2024-03-01 00:00"), "2025-02-28 04:00")
}

func TestRecurrenceUsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 3, 10, 3, 0, 0, 0, loc)
	next := ComputeNextRun(Recurrence{Kind: KindDaily, Time: "04:00"}, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 10, 4, 0, 0, 0, loc), *next)
	assert.Equal(t, loc, next.Location())
}

func TestMissingFieldsYieldNil(t *testing.T) {
	now := at("2024-03-10 12:00")
	tests := []struct {
		name string
		r    Recurrence
	}{
		{"weekly without day", Recurrence{Kind: KindWeekly, Time: "04:00"}},
		{"weekly bad day", Recurrence{Kind: KindWeekly, Time: "04:00", Day: "someday"}},
		{"daily without time", Recurrence{Kind: KindDaily}},
		{"daily bad time", Recurrence{Kind: KindDaily, Time: "25:00"}},
		{"monthly without day", Recurrence{Kind: KindMonthly, Time: "04:00"}},
		{"monthly day 32", Recurrence{Kind: KindMonthly, Time: "04:00", Day: "32"}},
		{"yearly without month", Recurrence{Kind: KindYearly, Time: "04:00", Day: "1"}},
		{"one_time without start", Recurrence{Kind: KindOneTime}},
		{"unknown kind", Recurrence{Kind: "hourly", Time: "04:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ComputeNextRun(tt.r, now))
			err := tt.r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchedule))
			assert.True(t, errors.IsConfigurationError(err))
		})
	}
}

func TestNextRunStrictlyAfterNow(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	start := at("2023-01-01 00:00")
	recurrences := []Recurrence{
		{Kind: KindDaily, Time: "00:00"},
		{Kind: KindDaily, Time: "23:59"},
		{Kind: KindWeekly, Time: "12:30", Day: "sunday"},
		{Kind: KindMonthly, Time: "04:00", Day: "31"},
		{Kind: KindMonthly, Time: "00:00", Day: "1"},
		{Kind: KindYearly, Time: "04:00", Day: "29", Month: 2},
		{Kind: KindYearly, Time: "23:59", Day: "31", Month: 12},
		{Kind: KindOneTime, StartAt: util.Ptr(at("2024-06-01 00:00"))},
	}

	for i := 0; i < 2000; i++ {
		now := start.Add(time.Duration(rng.Int64N(int64(3 * 365 * 24 * time.Hour))))
		for _, r := range recurrences {
			next := ComputeNextRun(r, now)
			if r.Kind == KindOneTime && next == nil {
				continue
			}
			require.NotNil(t, next, "%+v at %s", r, now)
			require.True(t, next.After(now), "%+v at %s gave %s", r, now, next)
		}
	}
}

func TestRepeatedComputationIsMonotonic(t *testing.T) {
	r := Recurrence{Kind: KindMonthly, Time: "04:00", Day: "31"}
	now := at("2024-01-01 00:00")
	var prev time.Time
	for i := 0; i < 24; i++ {
		next := ComputeNextRun(r, now)
		require.NotNil(t, next)
		require.True(t, next.After(prev))
		prev = *next
		now = *next
	}
	assert.Equal(t, at("2025-12-31 04:00"), prev)
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2100, time.February))
	assert.Equal(t, 29, DaysIn(2000, time.February))
	assert.Equal(t, 30, DaysIn(2024, time.April))
	assert.Equal(t, 31, DaysIn(2024, time.December))
}
