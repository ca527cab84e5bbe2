package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleDropsCallsInsideWindow(t *testing.T) {
	th := NewThrottle(time.Hour)
	runs := 0
	for i := 0; i < 5; i++ {
		th.Do(func() { runs++ })
	}
	assert.Equal(t, 1, runs)
}

func TestThrottleSetIsPerKey(t *testing.T) {
	ts := NewThrottleSet(time.Hour)
	runs := map[IdentityKey]int{}

	for i := 0; i < 3; i++ {
		ts.Do("62811", func() { runs["62811"]++ })
		ts.Do("62899", func() { runs["62899"]++ })
	}

	assert.Equal(t, 1, runs["62811"])
	assert.Equal(t, 1, runs["62899"])
}

func TestThrottleSetForgetResetsWindow(t *testing.T) {
	ts := NewThrottleSet(time.Hour)
	runs := 0

	ts.Do("62811", func() { runs++ })
	ts.Do("62811", func() { runs++ })
	ts.Forget("62811")
	ts.Do("62811", func() { runs++ })

	assert.Equal(t, 2, runs)
}
