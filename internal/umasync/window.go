package umasync

import "time"

const (
	// MinWindow and MaxWindow bound the adaptive block range.
	MinWindow uint64 = 500
	MaxWindow uint64 = 100_000

	// maxConsecutiveEmptyRanges shrinks the window after this many empty
	// successful ranges in a row.
	maxConsecutiveEmptyRanges = 3

	// growthLogsPerSecond is the throughput above which the window grows.
	growthLogsPerSecond = 10.0
)

// window is the adaptive block-range width. Grows on dense successful
// ranges, shrinks on failure or sustained emptiness, always inside
// [MinWindow, MaxWindow].
type window struct {
	size      uint64
	emptyRuns int
}

// newWindow seeds the window: the configured maxBlockRange when resuming
// a cursor, MinWindow on a cold start.
func newWindow(lastProcessedBlock, maxBlockRange uint64) *window {
	w := &window{size: MinWindow}
	if lastProcessedBlock > 0 && maxBlockRange > 0 {
		w.size = maxBlockRange
	}
	w.clamp()
	return w
}

func (w *window) current() uint64 { return w.size }

// recordSuccess folds one successful range into the sizing policy.
func (w *window) recordSuccess(logs int, elapsed time.Duration) {
	if logs == 0 {
		w.emptyRuns++
		if w.emptyRuns >= maxConsecutiveEmptyRanges {
			w.shrink()
		}
		return
	}
	w.emptyRuns = 0

	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 0.001
	}
	if float64(logs)/secs > growthLogsPerSecond {
		w.size = uint64(float64(w.size) * 1.5)
		w.clamp()
	}
}

// recordFailure halves the window.
func (w *window) recordFailure() { w.shrink() }

func (w *window) shrink() {
	w.size /= 2
	w.emptyRuns = 0
	w.clamp()
}

func (w *window) clamp() {
	if w.size < MinWindow {
		w.size = MinWindow
	}
	if w.size > MaxWindow {
		w.size = MaxWindow
	}
}
