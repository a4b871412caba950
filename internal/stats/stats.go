// Package stats provides process-wide request counters for the TTS bot.
//
// Counters increase monotonically during a run and reset only at process
// restart. All methods are safe for concurrent use.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Report layout.
const (
	reportSeparator = "=================================================="
	reportHeader    = "SESSION STATISTICS"

	reportFmtDuration  = "  Duration:          %s\n"
	reportFmtRequests  = "  Requests:          %d\n"
	reportFmtSuccesses = "  Successes:         %d (%.1f%%)\n"
	reportFmtAuth      = "  Auth errors (401): %d\n"
	reportFmtRateLimit = "  Rate limit (429):  %d\n"
	reportFmtOther     = "  Other errors:      %d\n"
	reportFmtBytes     = "  Data transferred:  %.2f KB\n"
)

const (
	percentFactor    = 100
	bytesPerKilobyte = 1024.0
)

// Snapshot is an immutable copy of the counters at one point in time.
type Snapshot struct {
	Requests      uint64
	Successes     uint64
	AuthErrors    uint64
	RateLimitHits uint64
	OtherErrors   uint64
	BytesReceived uint64
	StartedAt     time.Time
}

// Counters tracks request outcomes across the whole process.
type Counters struct {
	mu sync.Mutex

	requests      uint64
	successes     uint64
	authErrors    uint64
	rateLimitHits uint64
	otherErrors   uint64
	bytesReceived uint64
	startedAt     time.Time
}

// New creates a zeroed counter set with the session clock started at now.
func New() *Counters {
	return &Counters{startedAt: time.Now()}
}

// RecordRequest counts one outbound attempt.
func (c *Counters) RecordRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
}

// RecordSuccess counts one successful call and the payload bytes it moved.
func (c *Counters) RecordSuccess(transferredBytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes++
	if transferredBytes > 0 {
		c.bytesReceived += uint64(transferredBytes)
	}
}

// RecordAuthError counts one HTTP 401 outcome.
func (c *Counters) RecordAuthError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authErrors++
}

// RecordRateLimit counts one HTTP 429 outcome.
func (c *Counters) RecordRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// RecordOtherError counts any remaining error class (403, 5xx, timeouts).
func (c *Counters) RecordOtherError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.otherErrors++
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Requests:      c.requests,
		Successes:     c.successes,
		AuthErrors:    c.authErrors,
		RateLimitHits: c.rateLimitHits,
		OtherErrors:   c.otherErrors,
		BytesReceived: c.bytesReceived,
		StartedAt:     c.startedAt,
	}
}

// Report renders the human-readable session summary.
func (c *Counters) Report() string {
	snap := c.Snapshot()

	successRate := 0.0
	if snap.Requests > 0 {
		successRate = float64(snap.Successes) / float64(snap.Requests) * percentFactor
	}

	var builder strings.Builder

	builder.WriteString(reportSeparator + "\n")
	builder.WriteString(reportHeader + "\n")
	builder.WriteString(reportSeparator + "\n")
	fmt.Fprintf(&builder, reportFmtDuration, time.Since(snap.StartedAt).Round(time.Second))
	fmt.Fprintf(&builder, reportFmtRequests, snap.Requests)
	fmt.Fprintf(&builder, reportFmtSuccesses, snap.Successes, successRate)
	fmt.Fprintf(&builder, reportFmtAuth, snap.AuthErrors)
	fmt.Fprintf(&builder, reportFmtRateLimit, snap.RateLimitHits)
	fmt.Fprintf(&builder, reportFmtOther, snap.OtherErrors)
	fmt.Fprintf(&builder, reportFmtBytes, float64(snap.BytesReceived)/bytesPerKilobyte)
	builder.WriteString(reportSeparator)

	return builder.String()
}
