package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestPickInterval(t *testing.T) {
	s := JobSchedule{IntervalMinutes: 30, IntervalMarketOpenMinutes: intPtr(5)}

	assert.Equal(t, 30, s.PickInterval(false))
	assert.Equal(t, 5, s.PickInterval(true))

	noBand := JobSchedule{IntervalMinutes: 30}
	assert.Equal(t, 30, noBand.PickInterval(true))
}

func TestEffectiveIntervalMinutes_Backoff(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		expected int
	}{
		{"no failures uses configured interval", 0, 30},
		{"one failure backs off to 2m", 1, 2},
		{"two failures back off to 4m", 2, 4},
		{"three failures revert to configured interval", 3, 30},
		{"many failures revert to configured interval", 10, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := JobSchedule{IntervalMinutes: 30, ConsecutiveFailures: tt.failures}
			assert.Equal(t, tt.expected, s.EffectiveIntervalMinutes(false))
		})
	}
}

func TestEffectiveIntervalMinutes_BackoffOverridesMarketBand(t *testing.T) {
	s := JobSchedule{
		IntervalMinutes:           30,
		IntervalMarketOpenMinutes: intPtr(5),
		ConsecutiveFailures:       2,
	}
	assert.Equal(t, 4, s.EffectiveIntervalMinutes(true))
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	due := JobSchedule{IntervalMinutes: 30, Enabled: true, LastRun: now.Add(-31 * time.Minute).Unix()}
	assert.True(t, due.IsExpired(now, false))

	fresh := JobSchedule{IntervalMinutes: 30, Enabled: true, LastRun: now.Add(-5 * time.Minute).Unix()}
	assert.False(t, fresh.IsExpired(now, false))

	disabled := JobSchedule{IntervalMinutes: 30, Enabled: false, LastRun: 0}
	assert.False(t, disabled.IsExpired(now, false))

	// Failure backoff makes a job due much sooner.
	backingOff := JobSchedule{
		IntervalMinutes:     60,
		Enabled:             true,
		ConsecutiveFailures: 1,
		LastRun:             now.Add(-3 * time.Minute).Unix(),
	}
	assert.True(t, backingOff.IsExpired(now, false))
}

func TestDefaultSchedules(t *testing.T) {
	defaults := DefaultSchedules()
	assert.NotEmpty(t, defaults)

	byType := make(map[string]JobSchedule, len(defaults))
	for _, s := range defaults {
		_, dup := byType[s.JobType]
		assert.False(t, dup, "duplicate schedule %s", s.JobType)
		byType[s.JobType] = s

		assert.Greater(t, s.IntervalMinutes, 0, "%s needs a positive interval", s.JobType)
		assert.NotEmpty(t, s.Category, "%s needs a category", s.JobType)
	}

	// Parameterized ML jobs fan out per symbol.
	for _, jobType := range []string{"ml:retrain", "ml:monitor"} {
		s, ok := byType[jobType]
		assert.True(t, ok, "%s missing from defaults", jobType)
		assert.Equal(t, "securities", s.ParamSource)
		assert.Equal(t, "symbol", s.ParamField)
	}

	// The market-transition scenario relies on the portfolio sync band.
	sync := byType["sync:portfolio"]
	assert.Equal(t, 30, sync.IntervalMinutes)
	assert.Equal(t, 5, *sync.IntervalMarketOpenMinutes)
}
