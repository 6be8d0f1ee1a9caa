package index

import (
	"sync"
	"time"
)

// Phase names what the leader loop is doing.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseFullPass Phase = "full_pass"
	PhaseWatching Phase = "watching"
	PhaseStopped  Phase = "stopped"
)

// Progress is a point-in-time view of the leader's work.
type Progress struct {
	Phase Phase `json:"phase"`

	// Counters for the current or most recent full pass.
	FilesTotal     int `json:"files_total"`
	FilesProcessed int `json:"files_processed"`
	FilesChanged   int `json:"files_changed"`
	FilesRemoved   int `json:"files_removed"`

	// ChunksWritten and ChunksEmbedded accumulate across passes and events.
	ChunksWritten  int `json:"chunks_written"`
	ChunksEmbedded int `json:"chunks_embedded"`

	PassesCompleted int           `json:"passes_completed"`
	LastPassAt      time.Time     `json:"last_pass_at"`
	LastPassTook    time.Duration `json:"last_pass_took"`
}

type progressTracker struct {
	mu sync.Mutex
	p  Progress
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.p
	if p.Phase == "" {
		p.Phase = PhaseIdle
	}
	return p
}

func (t *progressTracker) setPhase(ph Phase) {
	t.mu.Lock()
	t.p.Phase = ph
	t.mu.Unlock()
}

func (t *progressTracker) startPass(total int) {
	t.mu.Lock()
	t.p.Phase = PhaseFullPass
	t.p.FilesTotal = total
	t.p.FilesProcessed = 0
	t.p.FilesChanged = 0
	t.p.FilesRemoved = 0
	t.mu.Unlock()
}

func (t *progressTracker) fileDone(res syncResult) {
	t.mu.Lock()
	t.p.FilesProcessed++
	t.record(res)
	t.mu.Unlock()
}

// record adds res to the counters; callers hold mu.
func (t *progressTracker) record(res syncResult) {
	if res.changed {
		t.p.FilesChanged++
	}
	if res.removed {
		t.p.FilesRemoved++
	}
	t.p.ChunksWritten += res.written
	t.p.ChunksEmbedded += res.embedded
}

func (t *progressTracker) eventDone(res syncResult) {
	t.mu.Lock()
	t.record(res)
	t.mu.Unlock()
}

func (t *progressTracker) finishPass(at time.Time, took time.Duration) {
	t.mu.Lock()
	t.p.Phase = PhaseWatching
	t.p.PassesCompleted++
	t.p.LastPassAt = at
	t.p.LastPassTook = took
	t.mu.Unlock()
}
