package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "pepperbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 5s", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "5s", kind: SpecInterval, source: "duration", duration: 5 * time.Second},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "01:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestRunAtStartAndSkipIfRunning(t *testing.T) {
	s := New(Config{}, nilLogger())
	release := make(chan struct{})
	var runs atomic.Int32
	err := s.AddInterval("slow", 10*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, RunAtStart())
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	s.Start(context.Background())
	time.Sleep(1200 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 while the first run blocks", got)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Skipped == 0 {
		t.Fatalf("expected skipped triggers, got %+v", snap.Schedules)
	}
}

func TestFatalErrorIsDelivered(t *testing.T) {
	s := New(Config{}, nilLogger())
	boom := errors.New("connection lost")
	if err := s.AddInterval("poll", time.Hour, 0, func(context.Context) error {
		return Fatal(boom)
	}, RunAtStart()); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case err := <-s.Fatal():
		if !errors.Is(err, boom) || !IsFatal(err) {
			t.Fatalf("fatal = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error not delivered")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nilLogger())
	if err := s.AddSchedule("", "5s", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected name error")
	}
	if err := s.AddSchedule("x", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected cron parse error")
	}
	if err := s.AddSchedule("x", "5s", 0, nil); err == nil {
		t.Fatal("expected job error")
	}
}

func nilLogger() logx.Logger { return logx.Nop() }
