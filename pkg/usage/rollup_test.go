package usage

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingRoller struct {
	mu   sync.Mutex
	days []time.Time
}

func (c *countingRoller) RecomputeDay(ctx context.Context, day time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days = append(c.days, Day(day))
	return 1, nil
}

func TestRollupSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewRollupScheduler(&countingRoller{}, "not a cron expr")
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start with invalid schedule succeeded, want error")
	}
}

func TestRollupSchedulerEmptyScheduleIsNoop(t *testing.T) {
	s := NewRollupScheduler(&countingRoller{}, "")
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("Start with empty schedule: %v", err)
	}
	s.Stop()
}

func TestRollupRunOnce(t *testing.T) {
	roller := &countingRoller{}
	s := NewRollupScheduler(roller, "15 0 * * *")

	day := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if _, err := s.RunOnce(context.Background(), day); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(roller.days) != 1 || !roller.days[0].Equal(Day(day)) {
		t.Errorf("recomputed days = %v, want [%v]", roller.days, Day(day))
	}
}

func TestDayTruncation(t *testing.T) {
	in := time.Date(2026, 8, 20, 23, 59, 59, 0, time.FixedZone("X", 3600))
	got := Day(in)
	want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day(%v) = %v, want %v", in, got, want)
	}
}
