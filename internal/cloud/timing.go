// timing.go - transfer timing instrumentation for diagnostics.
//
// Enable timing output by setting CDRIVE_TIMING=1. Lines are logged at info level:
//
//	timing phase="multipart upload" elapsed=9.2s bytes="320 MB" rate="35 MB/s"
//	timing phase="part" part=1/10 elapsed=850ms bytes="32 MB"
package cloud

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cryptdrive/cdrive/internal/logging"
)

// TimingEnabled returns true if CDRIVE_TIMING=1 is set.
func TimingEnabled() bool {
	return os.Getenv("CDRIVE_TIMING") == "1"
}

// Timer tracks elapsed time for a named phase.
// Stop is idempotent; only the first call logs.
type Timer struct {
	name    string
	start   time.Time
	logger  *logging.Logger
	stopped int32
}

// StartTimer creates a new timer.
func StartTimer(logger *logging.Logger, name string) *Timer {
	return &Timer{name: name, start: time.Now(), logger: logger}
}

// Elapsed returns the current elapsed time without stopping the timer.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop logs the elapsed time and returns the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if atomic.CompareAndSwapInt32(&t.stopped, 0, 1) && TimingEnabled() && t.logger != nil {
		t.logger.Info().Str("phase", t.name).Dur("elapsed", elapsed).Msg("timing")
	}
	return elapsed
}

// StopWithThroughput logs elapsed time with throughput information.
func (t *Timer) StopWithThroughput(bytes int64) time.Duration {
	elapsed := time.Since(t.start)
	if atomic.CompareAndSwapInt32(&t.stopped, 0, 1) && TimingEnabled() && t.logger != nil {
		t.logger.Info().
			Str("phase", t.name).
			Dur("elapsed", elapsed).
			Str("bytes", FormatBytes(bytes)).
			Str("rate", FormatSpeed(float64(bytes)/elapsed.Seconds())).
			Msg("timing")
	}
	return elapsed
}

// PartTimer aggregates per-part timings of a multipart transfer.
type PartTimer struct {
	name       string
	logger     *logging.Logger
	totalParts int

	mu             sync.Mutex
	completedParts int
	totalBytes     int64
	totalDuration  time.Duration
}

// NewPartTimer creates a new part timer.
func NewPartTimer(logger *logging.Logger, name string, totalParts int) *PartTimer {
	return &PartTimer{name: name, logger: logger, totalParts: totalParts}
}

// RecordPart records one completed part.
func (pt *PartTimer) RecordPart(partNum int, duration time.Duration, bytes int64) {
	pt.mu.Lock()
	pt.completedParts++
	pt.totalBytes += bytes
	pt.totalDuration += duration
	pt.mu.Unlock()

	if TimingEnabled() && pt.logger != nil {
		pt.logger.Info().
			Str("phase", pt.name).
			Int("part", partNum).
			Int("of", pt.totalParts).
			Dur("elapsed", duration).
			Str("bytes", FormatBytes(bytes)).
			Msg("timing")
	}
}

// GetStats returns current statistics without logging.
// avgSpeed is bytes per second of summed part time, not wall clock.
func (pt *PartTimer) GetStats() (completedParts int, totalBytes int64, avgSpeed float64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	completedParts = pt.completedParts
	totalBytes = pt.totalBytes
	if pt.totalDuration > 0 {
		avgSpeed = float64(pt.totalBytes) / pt.totalDuration.Seconds()
	}
	return
}

// Summary logs aggregate statistics for all parts.
func (pt *PartTimer) Summary() {
	parts, bytes, speed := pt.GetStats()
	if !TimingEnabled() || pt.logger == nil || parts == 0 {
		return
	}
	pt.logger.Info().
		Str("phase", pt.name).
		Int("parts", parts).
		Str("bytes", FormatBytes(bytes)).
		Str("avg", FormatSpeed(speed)).
		Msg("timing summary")
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatSpeed returns a human-readable speed in bytes/second.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}
