package umasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowSeed(t *testing.T) {
	assert.Equal(t, MinWindow, newWindow(0, 10_000).current(), "cold start uses the minimum")
	assert.Equal(t, uint64(10_000), newWindow(500, 10_000).current(), "resume uses maxBlockRange")
	assert.Equal(t, MaxWindow, newWindow(500, 500_000).current(), "oversized config clamps")
}

func TestWindowShrinkOnFailureThenEmptyRuns(t *testing.T) {
	w := newWindow(500, 10_000)

	w.recordFailure()
	assert.Equal(t, uint64(5_000), w.current())

	// Three consecutive empty successful ranges shrink once more.
	w.recordSuccess(0, time.Second)
	w.recordSuccess(0, time.Second)
	assert.Equal(t, uint64(5_000), w.current())
	w.recordSuccess(0, time.Second)
	assert.Equal(t, uint64(2_500), w.current())
}

func TestWindowGrowsOnDenseRanges(t *testing.T) {
	w := newWindow(500, 10_000)

	// 100 logs in one second clears the 10 logs/s bar.
	w.recordSuccess(100, time.Second)
	assert.Equal(t, uint64(15_000), w.current())

	// A sparse range neither grows nor shrinks.
	w.recordSuccess(5, time.Second)
	assert.Equal(t, uint64(15_000), w.current())
}

func TestWindowStaysBounded(t *testing.T) {
	w := newWindow(500, 10_000)
	for i := 0; i < 50; i++ {
		w.recordFailure()
	}
	assert.Equal(t, MinWindow, w.current())

	for i := 0; i < 50; i++ {
		w.recordSuccess(10_000, time.Millisecond)
	}
	assert.Equal(t, MaxWindow, w.current())

	// A non-empty range resets the empty streak.
	w2 := newWindow(500, 10_000)
	w2.recordSuccess(0, time.Second)
	w2.recordSuccess(0, time.Second)
	w2.recordSuccess(5, time.Second)
	w2.recordSuccess(0, time.Second)
	assert.Equal(t, uint64(10_000), w2.current(), "streak restarted after a non-empty range")
}
