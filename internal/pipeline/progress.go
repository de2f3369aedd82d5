package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress is a shared, concurrency-safe view of a running build, read by the
// status HTTP surface. The zero value is ready to use.
type Progress struct {
	mu    sync.RWMutex
	runID string
	phase string
	start time.Time

	seedsTotal       int64
	seedsDone        int64
	conceptsResolved int64
	conceptsSkipped  int64
	rowsWritten      int64
}

// Snapshot is a point-in-time copy of the build state.
type Snapshot struct {
	RunID            string  `json:"run_id"`
	Phase            string  `json:"phase"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	SeedsTotal       int64   `json:"seeds_total"`
	SeedsDone        int64   `json:"seeds_done"`
	ConceptsResolved int64   `json:"concepts_resolved"`
	ConceptsSkipped  int64   `json:"concepts_skipped"`
	RowsWritten      int64   `json:"rows_written"`
}

func (p *Progress) begin(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.start = time.Now()
}

// SetPhase records the pipeline phase currently running.
func (p *Progress) SetPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

func (p *Progress) addSeeds(n int) { atomic.AddInt64(&p.seedsTotal, int64(n)) }

func (p *Progress) seedDone() { atomic.AddInt64(&p.seedsDone, 1) }

func (p *Progress) conceptResolved() { atomic.AddInt64(&p.conceptsResolved, 1) }

func (p *Progress) conceptSkipped() { atomic.AddInt64(&p.conceptsSkipped, 1) }

func (p *Progress) rowsAdded(n int64) { atomic.AddInt64(&p.rowsWritten, n) }

// Snapshot returns the current build state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var elapsed float64
	if !p.start.IsZero() {
		elapsed = time.Since(p.start).Seconds()
	}
	return Snapshot{
		RunID:            p.runID,
		Phase:            p.phase,
		ElapsedSeconds:   elapsed,
		SeedsTotal:       atomic.LoadInt64(&p.seedsTotal),
		SeedsDone:        atomic.LoadInt64(&p.seedsDone),
		ConceptsResolved: atomic.LoadInt64(&p.conceptsResolved),
		ConceptsSkipped:  atomic.LoadInt64(&p.conceptsSkipped),
		RowsWritten:      atomic.LoadInt64(&p.rowsWritten),
	}
}
