package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppleTimeRoundTrip(t *testing.T) {
	dt := time.Date(2024, 3, 15, 12, 30, 45, 0, time.UTC)
	ns := TimeToAppleTime(dt)
	assert.Equal(t, dt, AppleTimeToTime(ns))
}

func TestAppleTimeEpoch(t *testing.T) {
	assert.Equal(t, int64(0), TimeToAppleTime(AppleEpoch))
	assert.True(t, AppleTimeToTime(0).IsZero())
}

func TestAppleTimeKnownValue(t *testing.T) {
	// One day after the epoch.
	ns := int64(24 * 60 * 60 * 1_000_000_000)
	assert.Equal(t, time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC), AppleTimeToTime(ns))
}

func TestReactionTypeMapCoversAddAndRemove(t *testing.T) {
	for code := int64(2000); code <= 2005; code++ {
		add, ok := ReactionTypeMap[code]
		assert.True(t, ok, "missing add code %d", code)
		remove, ok := ReactionTypeMap[code+1000]
		assert.True(t, ok, "missing remove code %d", code+1000)
		assert.Equal(t, add, remove)
	}
}
