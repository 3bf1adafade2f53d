package timeexpr

import (
	"testing"
	"time"
)

func TestGenerateCronExpression(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"every minute", "* * * * *"},
		{"every hour", "0 * * * *"},
		{"every day", "0 0 * * *"},
		{"daily", "0 0 * * *"},
		{"every week", "0 0 * * 0"},
		{"every month", "0 0 1 * *"},
		{"every year", "0 0 1 1 *"},
		{"weekdays", "0 9 * * 1-5"},
		{"weekends", "0 10 * * 0,6"},
		{"Every Morning", "0 9 * * *"},
		{"every evening", "0 18 * * *"},
		{"twice daily", "0 9,18 * * *"},
		{"every hour during work hours", "0 9-17 * * 1-5"},
		{"no idea", DefaultCronExpr},
		{"", DefaultCronExpr},
	}

	for _, tt := range tests {
		if got := GenerateCronExpression(tt.expr); got != tt.want {
			t.Errorf("GenerateCronExpression(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestNextExecutionFromCron(t *testing.T) {
	ref := time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC)

	got, ok := NextExecutionFromCron("0 0 * * *", ref)
	if !ok {
		t.Fatal("expected valid cron expression")
	}
	want := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextExecutionFromCronStrictlyAfter(t *testing.T) {
	// A reference exactly on a fire time must yield the following one.
	ref := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)
	got, ok := NextExecutionFromCron("0 0 * * *", ref)
	if !ok {
		t.Fatal("expected valid cron expression")
	}
	if !got.After(ref) {
		t.Errorf("next = %v, not strictly after %v", got, ref)
	}
	want := time.Date(2023, 1, 17, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextExecutionFromCronInvalid(t *testing.T) {
	ref := time.Now()
	for _, expr := range []string{"not a cron", "61 0 * * *", "* * *"} {
		if _, ok := NextExecutionFromCron(expr, ref); ok {
			t.Errorf("NextExecutionFromCron(%q): expected rejection", expr)
		}
	}
}
