package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler("America/New_York")
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer s.Stop()

	if s.location.String() != "America/New_York" {
		t.Errorf("location = %q, want 'America/New_York'", s.location.String())
	}
}

func TestNewSchedulerInvalidTimezone(t *testing.T) {
	_, err := NewScheduler("Invalid/Zone")
	if err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestScheduleDailyAndStop(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	// Testing actual cron execution timing is unreliable in unit tests
	if err := s.ScheduleDaily("home", "12:00", func() {}); err != nil {
		t.Fatalf("ScheduleDaily failed: %v", err)
	}

	s.Start()

	if len(s.cron.Entries()) != 1 {
		t.Errorf("expected 1 cron entry, got %d", len(s.cron.Entries()))
	}

	next, ok := s.Next("home")
	if !ok {
		t.Fatal("Next should know the home job")
	}
	if next.Hour() != 12 || next.Minute() != 0 {
		t.Errorf("next run = %v, want 12:00", next)
	}
}

func TestScheduleInvalidTime(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	tests := []string{
		"invalid",
		"25:00",
		"12:60",
		"9:00", // Missing leading zero
		"12:0", // Missing leading zero
	}

	for _, tt := range tests {
		if err := s.ScheduleDaily("home", tt, func() {}); err == nil {
			t.Errorf("expected error for invalid time %q", tt)
		}
	}
	if len(s.cron.Entries()) != 0 {
		t.Errorf("invalid times should not add entries")
	}
}

func TestScheduleSpec(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	if err := s.ScheduleSpec("prune", "@daily", func() {}); err != nil {
		t.Fatalf("ScheduleSpec failed: %v", err)
	}
	if err := s.ScheduleSpec("bad", "not a spec", func() {}); err == nil {
		t.Error("expected error for malformed spec")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("expected 1 entry, got %d", len(s.cron.Entries()))
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"12:30", 12, 30, false},
		{"25:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"invalid", 0, 0, true},
	}

	for _, tt := range tests {
		hour, minute, err := parseTime(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTime(%q) should return error", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("parseTime(%q) unexpected error: %v", tt.input, err)
			}
			if hour != tt.hour || minute != tt.minute {
				t.Errorf("parseTime(%q) = (%d, %d), want (%d, %d)",
					tt.input, hour, minute, tt.hour, tt.minute)
			}
		}
	}
}

func TestBuildCronSpec(t *testing.T) {
	tests := []struct {
		hour     int
		minute   int
		expected string
	}{
		{9, 0, "0 9 * * *"},
		{0, 0, "0 0 * * *"},
		{23, 59, "59 23 * * *"},
		{12, 30, "30 12 * * *"},
	}

	for _, tt := range tests {
		spec := buildCronSpec(tt.hour, tt.minute)
		if spec != tt.expected {
			t.Errorf("buildCronSpec(%d, %d) = %q, want %q",
				tt.hour, tt.minute, spec, tt.expected)
		}
	}
}

func TestReschedule(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	var calls atomic.Int32
	fn := func() { calls.Add(1) }

	if err := s.ScheduleDaily("home", "12:00", fn); err != nil {
		t.Fatalf("initial ScheduleDaily failed: %v", err)
	}
	if err := s.ScheduleSpec("prune", "@daily", func() {}); err != nil {
		t.Fatalf("ScheduleSpec failed: %v", err)
	}

	if err := s.Reschedule("home", "14:00"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	// Old home entry removed, prune untouched
	if len(s.cron.Entries()) != 2 {
		t.Errorf("expected 2 entries after reschedule, got %d", len(s.cron.Entries()))
	}

	s.Start()
	next, _ := s.Next("home")
	if next.Hour() != 14 {
		t.Errorf("next run = %v, want 14:00", next)
	}

	// The job function survives the move
	s.cron.Entry(s.jobs["home"].entryID).Job.Run()
	if calls.Load() != 1 {
		t.Errorf("rescheduled job ran %d times, want 1", calls.Load())
	}
}

func TestRescheduleUnknownJob(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	if err := s.Reschedule("missing", "10:00"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestRecoverFromPanickingJob(t *testing.T) {
	s, _ := NewScheduler("UTC")
	defer s.Stop()

	if err := s.ScheduleDaily("boom", "03:00", func() { panic("boom") }); err != nil {
		t.Fatalf("ScheduleDaily failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.cron.Entry(s.jobs["boom"].entryID).WrappedJob.Run()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wrapped job did not return")
	}
}

func TestMultipleStartStop(t *testing.T) {
	s, _ := NewScheduler("UTC")

	s.ScheduleDaily("home", "12:00", func() {})

	// Multiple starts shouldn't panic
	s.Start()
	s.Start()

	// Multiple stops shouldn't panic
	s.Stop()
	s.Stop()
}
