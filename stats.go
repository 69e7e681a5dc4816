package syncengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// recentErrorsCapacity bounds the in-memory error ring buffer.
	recentErrorsCapacity = 100
	// perfSamplesCapacity bounds the rolling processing-duration window.
	perfSamplesCapacity = 1000
	// statusErrorCount is how many recent errors a status snapshot carries.
	statusErrorCount = 5
)

// ErrorRecord is one entry of the recent-errors ring buffer.
type ErrorRecord struct {
	EventID    uuid.UUID `json:"event_id"`
	TableName  string    `json:"table_name"`
	Priority   Priority  `json:"priority"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatsSnapshot is a point-in-time copy of the cumulative run counters.
// Counters reset on engine restart; database-side aggregates are served
// separately through QueueStatistics.
type StatsSnapshot struct {
	Processed        uint64        `json:"processed"`
	Failed           uint64        `json:"failed"`
	Retried          uint64        `json:"retried"`
	DeadLettered     uint64        `json:"dead_lettered"`
	BatchesProcessed uint64        `json:"batches_processed"`
	SampleCount      int           `json:"sample_count"`
	AvgDuration      time.Duration `json:"avg_duration"`
	MaxDuration      time.Duration `json:"max_duration"`
}

// runStats aggregates counters, recent errors, and performance samples.
// Mutated by every worker and batch; read by status queries. Recording
// never blocks the dispatch loop beyond a short mutex hold.
type runStats struct {
	mu sync.Mutex

	processed        uint64
	failed           uint64
	retried          uint64
	deadLettered     uint64
	batchesProcessed uint64

	errors    []ErrorRecord // ring buffer, oldest first
	errorHead int
	samples   []time.Duration // rolling window, oldest first
	sampleIdx int
}

func newRunStats() *runStats {
	return &runStats{
		errors:  make([]ErrorRecord, 0, recentErrorsCapacity),
		samples: make([]time.Duration, 0, perfSamplesCapacity),
	}
}

func (s *runStats) recordProcessed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if len(s.samples) < perfSamplesCapacity {
		s.samples = append(s.samples, d)
	} else {
		s.samples[s.sampleIdx] = d
	}
	s.sampleIdx = (s.sampleIdx + 1) % perfSamplesCapacity
}

func (s *runStats) recordFailure(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.pushError(rec)
}

// recordError stores an error without counting a processing failure,
// e.g. store round-trip errors during fetch.
func (s *runStats) recordError(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushError(rec)
}

func (s *runStats) pushError(rec ErrorRecord) {
	if len(s.errors) < recentErrorsCapacity {
		s.errors = append(s.errors, rec)
	} else {
		s.errors[s.errorHead] = rec
	}
	s.errorHead = (s.errorHead + 1) % recentErrorsCapacity
}

func (s *runStats) incRetried() {
	s.mu.Lock()
	s.retried++
	s.mu.Unlock()
}

func (s *runStats) incDeadLettered() {
	s.mu.Lock()
	s.deadLettered++
	s.mu.Unlock()
}

func (s *runStats) incBatches() {
	s.mu.Lock()
	s.batchesProcessed++
	s.mu.Unlock()
}

// recentErrors returns up to n most recent errors, newest first.
func (s *runStats) recentErrors(n int) []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := min(n, len(s.errors))
	out := make([]ErrorRecord, 0, count)
	// errorHead points at the next write slot, so the newest entry sits
	// immediately behind it.
	for i := 1; i <= count; i++ {
		idx := (s.errorHead - i + len(s.errors)) % len(s.errors)
		out = append(out, s.errors[idx])
	}
	return out
}

func (s *runStats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Processed:        s.processed,
		Failed:           s.failed,
		Retried:          s.retried,
		DeadLettered:     s.deadLettered,
		BatchesProcessed: s.batchesProcessed,
		SampleCount:      len(s.samples),
	}
	if len(s.samples) > 0 {
		var total time.Duration
		for _, d := range s.samples {
			total += d
			if d > snap.MaxDuration {
				snap.MaxDuration = d
			}
		}
		snap.AvgDuration = total / time.Duration(len(s.samples))
	}
	return snap
}
