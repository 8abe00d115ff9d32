package retry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectStrategy(t *testing.T) {
	strategy := ReconnectStrategy()

	assert.Equal(t, 500*time.Millisecond, strategy.BaseDelay)
	assert.Equal(t, 30*time.Second, strategy.MaxDelay)
	assert.Equal(t, 2.0, strategy.ExponentialBase)
	assert.Equal(t, 6, strategy.ExponentCap)
	assert.True(t, strategy.IsRetryable(1000), "reconnect never gives up")
	assert.False(t, strategy.ShouldDeadLetter(1000))
}

func TestStrategy_CalculateRetryDelay_Reconnect(t *testing.T) {
	strategy := ReconnectStrategy()

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{name: "First retry uses base delay", attempt: 0, expected: 500 * time.Millisecond},
		{name: "Doubles", attempt: 1, expected: time.Second},
		{name: "Doubles again", attempt: 2, expected: 2 * time.Second},
		{name: "Attempt 5", attempt: 5, expected: 16 * time.Second},
		{name: "Capped by max delay", attempt: 6, expected: 30 * time.Second},
		{name: "Exponent cap keeps it bounded", attempt: 500, expected: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, strategy.CalculateRetryDelay(tt.attempt))
		})
	}
}

func TestStrategy_CalculateRetryDelay_ExponentCap(t *testing.T) {
	strategy := Strategy{
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        time.Hour,
		ExponentialBase: 2.0,
		ExponentCap:     3,
	}

	assert.Equal(t, 80*time.Millisecond, strategy.CalculateRetryDelay(3))
	assert.Equal(t, 80*time.Millisecond, strategy.CalculateRetryDelay(4))
	assert.Equal(t, 80*time.Millisecond, strategy.CalculateRetryDelay(40))
}

func TestStrategy_CalculateRetryDelay_CustomBase(t *testing.T) {
	strategy := Strategy{
		BaseDelay:       1 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 3.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 3 * time.Second},
		{2, 9 * time.Second},
		{3, 10 * time.Second},
		{4, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, strategy.CalculateRetryDelay(tt.attempt))
	}
}

func TestStrategy_ShouldDeadLetter(t *testing.T) {
	strategy := QueueStrategy()

	tests := []struct {
		name         string
		attemptCount int
		expected     bool
	}{
		{name: "No attempts yet", attemptCount: 0, expected: false},
		{name: "Below threshold", attemptCount: 4, expected: false},
		{name: "At threshold", attemptCount: 5, expected: true},
		{name: "Above threshold", attemptCount: 7, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, strategy.ShouldDeadLetter(tt.attemptCount))
		})
	}
}

func TestStrategy_IsRetryable(t *testing.T) {
	strategy := QueueStrategy()

	assert.True(t, strategy.IsRetryable(0))
	assert.True(t, strategy.IsRetryable(9))
	assert.False(t, strategy.IsRetryable(10))
	assert.False(t, strategy.IsRetryable(15))
}

func TestStrategy_Schedule(t *testing.T) {
	strategy := Strategy{
		BaseDelay:       10 * time.Second,
		MaxDelay:        2 * time.Minute,
		ExponentialBase: 2.0,
		DLQThreshold:    3,
	}

	schedule := strategy.Schedule(5)

	assert.Contains(t, schedule, "Retry Schedule:")
	assert.Contains(t, schedule, "Attempt 0: after 10s")
	assert.Contains(t, schedule, "Attempt 1: after 20s")
	assert.Contains(t, schedule, "Attempt 3: after 1m20s")
	assert.Contains(t, schedule, "Attempt 4: after 2m0s")
	assert.Contains(t, schedule, "→ Dead-letter")
	assert.Len(t, strings.Split(strings.TrimSpace(schedule), "\n"), 7)
}

func TestStrategy_BoundaryValues(t *testing.T) {
	t.Run("Zero base delay", func(t *testing.T) {
		strategy := Strategy{ExponentialBase: 2.0, MaxDelay: time.Minute}
		assert.Equal(t, time.Duration(0), strategy.CalculateRetryDelay(5))
	})

	t.Run("Exponential base below one is treated as one", func(t *testing.T) {
		strategy := Strategy{BaseDelay: 30 * time.Second, ExponentialBase: 0.5}
		assert.Equal(t, 30*time.Second, strategy.CalculateRetryDelay(4))
	})

	t.Run("Max delay below base delay", func(t *testing.T) {
		strategy := Strategy{BaseDelay: time.Minute, MaxDelay: 30 * time.Second, ExponentialBase: 2.0}
		assert.Equal(t, 30*time.Second, strategy.CalculateRetryDelay(0))
	})
}

func BenchmarkCalculateRetryDelay(b *testing.B) {
	strategy := ReconnectStrategy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = strategy.CalculateRetryDelay(i % 10)
	}
}
