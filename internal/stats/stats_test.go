// Package stats_test tests the process-wide request counters.
package stats_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/voxkit/tts-bot/internal/stats"
)

func TestCounters_RecordAndSnapshot(t *testing.T) {
	t.Parallel()

	counters := stats.New()

	counters.RecordRequest()
	counters.RecordRequest()
	counters.RecordRequest()
	counters.RecordSuccess(2048)
	counters.RecordRateLimit()
	counters.RecordAuthError()

	snap := counters.Snapshot()

	assert.Equal(t, uint64(3), snap.Requests)
	assert.Equal(t, uint64(1), snap.Successes)
	assert.Equal(t, uint64(1), snap.RateLimitHits)
	assert.Equal(t, uint64(1), snap.AuthErrors)
	assert.Equal(t, uint64(0), snap.OtherErrors)
	assert.Equal(t, uint64(2048), snap.BytesReceived)
}

func TestCounters_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	const goroutines = 32

	counters := stats.New()

	var waitGroup sync.WaitGroup

	for range goroutines {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			counters.RecordRequest()
			counters.RecordSuccess(1)
		}()
	}

	waitGroup.Wait()

	snap := counters.Snapshot()
	assert.Equal(t, uint64(goroutines), snap.Requests)
	assert.Equal(t, uint64(goroutines), snap.Successes)
	assert.Equal(t, uint64(goroutines), snap.BytesReceived)
}

func TestCounters_Report(t *testing.T) {
	t.Parallel()

	counters := stats.New()
	counters.RecordRequest()
	counters.RecordSuccess(1024)

	report := counters.Report()

	assert.Contains(t, report, "SESSION STATISTICS")
	assert.Contains(t, report, "Requests:          1")
	assert.Contains(t, report, "Successes:         1 (100.0%)")
	assert.Contains(t, report, "1.00 KB")
}
