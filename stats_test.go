package syncengine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStats(t *testing.T) {
	t.Parallel()

	t.Run("counters accumulate", func(t *testing.T) {
		t.Parallel()

		s := newRunStats()
		s.recordProcessed(10 * time.Millisecond)
		s.recordProcessed(30 * time.Millisecond)
		s.recordFailure(ErrorRecord{Message: "boom"})
		s.incRetried()
		s.incDeadLettered()
		s.incBatches()

		snap := s.snapshot()
		assert.Equal(t, uint64(2), snap.Processed)
		assert.Equal(t, uint64(1), snap.Failed)
		assert.Equal(t, uint64(1), snap.Retried)
		assert.Equal(t, uint64(1), snap.DeadLettered)
		assert.Equal(t, uint64(1), snap.BatchesProcessed)
		assert.Equal(t, 2, snap.SampleCount)
		assert.Equal(t, 20*time.Millisecond, snap.AvgDuration)
		assert.Equal(t, 30*time.Millisecond, snap.MaxDuration)
	})

	t.Run("error ring buffer bounded to capacity", func(t *testing.T) {
		t.Parallel()

		s := newRunStats()
		for i := 0; i < recentErrorsCapacity+50; i++ {
			s.recordError(ErrorRecord{Message: fmt.Sprintf("err-%d", i)})
		}

		all := s.recentErrors(recentErrorsCapacity * 2)
		require.Len(t, all, recentErrorsCapacity)
		// Newest first; the oldest 50 entries have been overwritten.
		assert.Equal(t, fmt.Sprintf("err-%d", recentErrorsCapacity+49), all[0].Message)
		assert.Equal(t, "err-50", all[len(all)-1].Message)
	})

	t.Run("recent errors newest first", func(t *testing.T) {
		t.Parallel()

		s := newRunStats()
		s.recordError(ErrorRecord{Message: "first"})
		s.recordError(ErrorRecord{Message: "second"})
		s.recordError(ErrorRecord{Message: "third"})

		recent := s.recentErrors(2)
		require.Len(t, recent, 2)
		assert.Equal(t, "third", recent[0].Message)
		assert.Equal(t, "second", recent[1].Message)
	})

	t.Run("performance samples bounded", func(t *testing.T) {
		t.Parallel()

		s := newRunStats()
		for _i := 0; _i < perfSamplesCapacity+200; _i++ {
			s.recordProcessed(time.Millisecond)
		}

		snap := s.snapshot()
		assert.Equal(t, uint64(perfSamplesCapacity+200), snap.Processed)
		assert.Equal(t, perfSamplesCapacity, snap.SampleCount)
	})
}
