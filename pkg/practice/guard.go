package practice

import (
	"sync"

	"github.com/google/uuid"
)

// PipelineGuard ensures at most one utterance pipeline runs at a time. It
// holds a busy flag plus a generation counter; the generation lets a late
// Release from a superseded run leave a newer run's busy flag alone.
type PipelineGuard struct {
	mu         sync.Mutex
	busy       bool
	generation uint64
}

// NewPipelineGuard returns an idle guard.
func NewPipelineGuard() *PipelineGuard {
	return &PipelineGuard{}
}

// Run is one admitted pipeline pass. Its RequestID is the correlation
// identifier reused by every remote call of the same turn, so duplicate
// retries and out-of-order responses can be recognized server-side.
type Run struct {
	guard      *PipelineGuard
	generation uint64
	release    sync.Once

	Token     uint64
	RequestID string
}

// TryAcquire admits a pipeline run for the utterance with the given session
// token, or reports false when one is already in flight.
func (g *PipelineGuard) TryAcquire(token uint64) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return nil, false
	}
	g.busy = true
	g.generation++
	return &Run{
		guard:      g,
		generation: g.generation,
		Token:      token,
		RequestID:  uuid.NewString(),
	}, true
}

// Busy reports whether a pipeline run is in flight.
func (g *PipelineGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Release clears the busy flag. It is idempotent and must be called on every
// exit path of the pipeline, success or failure; callers defer it immediately
// after acquisition.
func (r *Run) Release() {
	r.release.Do(func() {
		r.guard.mu.Lock()
		if r.guard.generation == r.generation {
			r.guard.busy = false
		}
		r.guard.mu.Unlock()
	})
}
