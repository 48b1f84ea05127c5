package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveCycleDueDate(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "early month bills on the 10th",
			now:  time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first of month bills on the 10th",
			now:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "the 10th itself bills on the 20th",
			now:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "mid month bills on the 20th",
			now:  time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "late month rolls into next cycle",
			now:  time.Date(2026, 3, 25, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december wraps into january",
			now:  time.Date(2026, 12, 28, 12, 0, 0, 0, time.UTC),
			want: time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveCycleDueDate(tc.now))
		})
	}
}

func TestNextDueDate(t *testing.T) {
	cases := []struct {
		name       string
		now        time.Time
		billingDay int
		want       time.Time
	}{
		{
			name:       "billing day still ahead this month",
			now:        time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
			billingDay: 10,
			want:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "billing day is today",
			now:        time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC),
			billingDay: 10,
			want:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "billing day already passed rolls to next month",
			now:        time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC),
			billingDay: 10,
			want:       time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "december rolls into january",
			now:        time.Date(2026, 12, 22, 8, 0, 0, 0, time.UTC),
			billingDay: 20,
			want:       time.Date(2027, 1, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "day 31 clamps to the end of february",
			now:        time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
			billingDay: 31,
			want:       time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "out of range day defaults to the 1st",
			now:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			billingDay: 0,
			want:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextDueDate(tc.now, tc.billingDay))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusPaid))
	assert.True(t, CanTransition(StatusPending, StatusOverdue))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusOverdue, StatusPaid))
	assert.True(t, CanTransition(StatusOverdue, StatusCancelled))
	assert.True(t, CanTransition(StatusPaid, StatusPaid), "same status is a no-op")

	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusPaid, StatusPending))
	assert.False(t, CanTransition(StatusCancelled, StatusPaid))
	assert.False(t, CanTransition(StatusOverdue, StatusPending))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusPaid))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusOverdue))
}
