package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC)

func TestIsFresh_WithinInterval(t *testing.T) {
	last := now.Add(-45 * time.Second)
	assert.True(t, IsFresh(last, now, 60), "price updated 45s ago should be fresh with a 60s interval")
}

func TestIsFresh_OutsideInterval(t *testing.T) {
	last := now.Add(-45 * time.Second)
	assert.False(t, IsFresh(last, now, 30), "price updated 45s ago should be stale with a 30s interval")
}

func TestIsFresh_ExactlyAtInterval(t *testing.T) {
	last := now.Add(-60 * time.Second)

	assert.True(t, IsFresh(last, now, 60), "boundary is inclusive: age == interval is fresh")
	assert.False(t, IsFresh(last.Add(-time.Nanosecond), now, 60), "one nanosecond past the interval should be stale")
}

func TestIsFresh_NeverPriced(t *testing.T) {
	assert.False(t, IsFresh(time.Time{}, now, 3600), "zero timestamp should never be fresh")
}

func TestIsFresh_FutureTimestamp(t *testing.T) {
	// Feed clock slightly ahead of ours.
	assert.True(t, IsFresh(now.Add(5*time.Second), now, 10))
}

func TestValidateInterval(t *testing.T) {
	tests := []struct {
		seconds int
		wantErr bool
	}{
		{9, true},
		{10, false},
		{60, false},
		{3600, false},
		{3601, true},
		{0, true},
		{-60, true},
	}

	for _, tt := range tests {
		err := ValidateInterval(tt.seconds)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrConfigOutOfRange, "ValidateInterval(%d)", tt.seconds)
		} else {
			assert.NoError(t, err, "ValidateInterval(%d)", tt.seconds)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(60)
	require.NoError(t, err)
	assert.Equal(t, 60, p.Interval())
	assert.True(t, p.IsFresh(now.Add(-45*time.Second), now))

	_, err = NewPolicy(5)
	assert.ErrorIs(t, err, ErrConfigOutOfRange)
}

func TestPolicyAge(t *testing.T) {
	p, err := NewPolicy(60)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, p.Age(now.Add(-90*time.Second), now))
	assert.Zero(t, p.Age(now.Add(time.Minute), now), "future timestamp has zero age")
	assert.Zero(t, p.Age(time.Time{}, now), "zero timestamp has zero age")
}
