package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIntervalHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		freq int
		want int
	}{
		{1, 24},
		{2, 12},
		{3, 8},
		{4, 6},
		{5, 4},
		{7, 3},
		{12, 2},
		{13, 1},
		{24, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckIntervalHours(tt.freq), "frequency %d", tt.freq)
	}

	for f := MinFrequency; f <= MaxFrequency; f++ {
		assert.Equal(t, max(1, 24/f), CheckIntervalHours(f))
	}
}

func TestValidateFrequency(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateFrequency(1))
	assert.NoError(t, ValidateFrequency(24))

	for _, f := range []int{0, -1, 25, 100} {
		err := ValidateFrequency(f)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	}
}

func TestSubscription_Due(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := Subscription{CheckInterval: 6 * time.Hour}

	assert.True(t, sub.Due(now), "never ran")

	sub.LastRunAt = now.Add(-5 * time.Hour)
	assert.False(t, sub.Due(now))

	sub.LastRunAt = now.Add(-6 * time.Hour)
	assert.True(t, sub.Due(now))
}
