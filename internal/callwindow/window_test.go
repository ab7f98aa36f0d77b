package callwindow

import (
	"errors"
	"testing"
	"time"

	"github.com/acme/call-task-engine/internal/domain"
)

func weekdayPolicy() domain.AgentPolicy {
	return domain.AgentPolicy{
		RetryInterval: 30 * time.Minute,
		MaxRetries:    3,
		Workdays:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		CallFrom:      time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC),
		CallTo:        time.Date(0, 1, 1, 17, 0, 0, 0, time.UTC),
		TimeZone:      "UTC",
	}
}

func TestNextWithinWindow(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) // Monday
	got, err := Next(now, weekdayPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextRollsToNextMorning(t *testing.T) {
	// Outcome lands Monday evening; the 30 minute interval pushes the
	// candidate past the window, so the retry moves to Tuesday 09:00.
	now := time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC) // Monday
	got, err := Next(now, weekdayPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextSkipsWeekend(t *testing.T) {
	now := time.Date(2024, 1, 19, 16, 45, 0, 0, time.UTC) // Friday
	got, err := Next(now, weekdayPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC) // Monday
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextBeforeWindowSnapsToSameDay(t *testing.T) {
	now := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC) // Monday
	got, err := Next(now, weekdayPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextOvernightWindow(t *testing.T) {
	policy := weekdayPolicy()
	policy.Workdays = []time.Weekday{time.Monday}
	policy.CallFrom = time.Date(0, 1, 1, 22, 0, 0, 0, time.UTC)
	policy.CallTo = time.Date(0, 1, 1, 2, 0, 0, 0, time.UTC)

	// Late Monday evening stays inside the window.
	now := time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC)
	got, err := Next(now, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Early Tuesday is still Monday's window.
	now = time.Date(2024, 1, 16, 0, 45, 0, 0, time.UTC)
	got, err = Next(now, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = time.Date(2024, 1, 16, 1, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Mid-Monday is outside and rolls to the window opening.
	now = time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)
	got, err = Next(now, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextEmptyWorkdaysFailsLoudly(t *testing.T) {
	policy := weekdayPolicy()
	policy.Workdays = nil

	if _, err := Next(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), policy); !errors.Is(err, ErrNoCallableWindow) {
		t.Fatalf("expected ErrNoCallableWindow, got %v", err)
	}
}

func TestNextAlwaysAfterNow(t *testing.T) {
	policy := weekdayPolicy()
	starts := []time.Time{
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 8, 59, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 16, 59, 0, 0, time.UTC),
		time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC), // Saturday
		time.Date(2024, 1, 21, 23, 59, 0, 0, time.UTC), // Sunday
	}

	for _, now := range starts {
		got, err := Next(now, policy)
		if err != nil {
			t.Fatalf("unexpected error at %v: %v", now, err)
		}
		if !got.After(now) {
			t.Errorf("next call %v not after now %v", got, now)
		}
		if !policy.AllowsWeekday(got.Weekday()) {
			t.Errorf("next call %v lands on non-workday %v", got, got.Weekday())
		}
		minute := got.Hour()*60 + got.Minute()
		if minute < 9*60 || minute >= 17*60 {
			t.Errorf("next call %v outside window", got)
		}
	}
}

func TestNextZeroIntervalStillAdvances(t *testing.T) {
	policy := weekdayPolicy()
	policy.RetryInterval = 0

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	got, err := Next(now, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.After(now) {
		t.Fatalf("expected result after now, got %v", got)
	}
}
