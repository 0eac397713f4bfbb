package schedule_test

import (
	"testing"
	"time"

	"github.com/waverly/waverly/internal/schedule"

	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		wantErr  bool
	}{
		{"valid_5_fields", "*/15 * * * *", false},
		{"macro_hourly", "@hourly", false},
		{"macro_every", "@every 5m", false},
		{"invalid_field_count", "* * * *", true},
		{"invalid_token", "70 * * * *", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := schedule.ParseCron(tc.given)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefinition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		wantErr  bool
	}{
		{"cron", "*/5 * * * *", false},
		{"macro", "@daily", false},
		{"duration", "90s", false},
		{"minutes", "15m", false},
		{"negative duration", "-5s", true},
		{"gibberish", "soonish", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := schedule.Definition(tc.given)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSchedulerTicks(t *testing.T) {
	t.Parallel()
	ticks := make(chan struct{}, 16)
	s, err := schedule.New("30ms", func() {
		ticks <- struct{}{}
	})
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
	})

	for range 2 {
		select {
		case <-ticks:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a scheduler tick")
		}
	}
}
