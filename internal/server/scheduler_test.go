package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-25 * time.Hour)
	hourAgo := now.Add(-61 * time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never fired", "@daily", nil, true},
		{"daily recent", "@daily", &recent, false},
		{"daily stale", "@daily", &stale, true},
		{"hourly recent", "@hourly", &recent, false},
		{"hourly elapsed", "@hourly", &hourAgo, true},
		{"cron never fired", "*/5 * * * *", nil, true},
		{"cron elapsed", "*/5 * * * *", &recent, true},
		{"invalid spec falls back to daily", "not a cron", &recent, false},
		{"invalid spec stale", "not a cron", &stale, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Errorf("isDue(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}

func TestValidateCronSpec(t *testing.T) {
	for _, spec := range []string{"@hourly", "@daily", "0 9 * * 1", "*/15 * * * *"} {
		if err := validateCronSpec(spec); err != nil {
			t.Errorf("validateCronSpec(%q) = %v", spec, err)
		}
	}
	if err := validateCronSpec("every other tuesday"); err == nil {
		t.Error("expected error for garbage spec")
	}
}
