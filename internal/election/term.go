package election

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// State is the lifecycle of one election attempt.
type State int32

const (
	// StateUnelected means no lease is held.
	StateUnelected State = iota
	// StateLeading means the lease is held and being renewed.
	StateLeading
	// StateDemoted is terminal: the lease was lost or resigned.
	StateDemoted
)

func (s State) String() string {
	switch s {
	case StateUnelected:
		return "unelected"
	case StateLeading:
		return "leading"
	case StateDemoted:
		return "demoted"
	default:
		return "unknown"
	}
}

// Term is one granted lease epoch. Its context is cancelled when the term
// ends, whether by demotion or resignation.
type Term struct {
	elector *Elector
	epoch   int64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	expires time.Time

	stop       chan struct{}
	done       chan struct{}
	resignOnce sync.Once
	resignErr  error
}

// startTerm begins the heartbeat for a granted lease. The term context
// carries parent's values but not its cancellation.
func startTerm(parent context.Context, e *Elector, res store.LeaseResult) *Term {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := &Term{
		elector: e,
		epoch:   res.Epoch,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateLeading,
		expires: time.Now().Add(e.opts.TTL),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.heartbeat()
	return t
}

// Epoch returns the lease epoch of this term.
func (t *Term) Epoch() int64 { return t.epoch }

// HolderID returns the lease holder token.
func (t *Term) HolderID() string { return t.elector.opts.HolderID }

// Fence returns the credentials that fenced store writes must carry.
func (t *Term) Fence() store.Fence {
	return store.Fence{HolderID: t.HolderID(), Epoch: t.epoch}
}

// Context is cancelled when the term ends.
func (t *Term) Context() context.Context { return t.ctx }

// State reports whether the term is still leading.
func (t *Term) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the heartbeat has exited.
func (t *Term) Done() <-chan struct{} { return t.done }

func (t *Term) heartbeat() {
	defer close(t.done)

	interval := t.elector.opts.Heartbeat
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(t.ctx, interval)
		ok, err := t.elector.store.RenewLease(rctx, t.HolderID(), t.epoch, t.elector.opts.TTL)
		cancel()

		now := time.Now()
		switch {
		case err != nil:
			t.mu.Lock()
			expired := !now.Before(t.expires)
			t.mu.Unlock()
			if expired {
				t.demote("renewal_failed_past_expiry")
				return
			}
			slog.Warn("lease_renewal_failed",
				slog.String("holder_id", t.HolderID()),
				slog.Int64("epoch", t.epoch),
				slog.String("error", err.Error()))
		case !ok:
			t.demote("lease_lost")
			return
		default:
			t.mu.Lock()
			t.expires = now.Add(t.elector.opts.TTL)
			t.mu.Unlock()
		}
	}
}

func (t *Term) demote(reason string) {
	t.mu.Lock()
	wasLeading := t.state == StateLeading
	t.state = StateDemoted
	t.mu.Unlock()
	t.cancel()

	if wasLeading {
		slog.Warn("leader_demoted",
			slog.String("holder_id", t.HolderID()),
			slog.Int64("epoch", t.epoch),
			slog.String("reason", reason))
	}
}

// Resign stops the heartbeat and releases the lease before returning, so
// another process can take over without waiting for expiry. It is safe to
// call more than once and after demotion.
func (t *Term) Resign(ctx context.Context) error {
	t.resignOnce.Do(func() {
		close(t.stop)
		<-t.done

		t.mu.Lock()
		leading := t.state == StateLeading
		t.state = StateDemoted
		t.mu.Unlock()
		t.cancel()

		if !leading {
			return
		}
		t.resignErr = t.elector.store.ReleaseLease(ctx, t.HolderID(), t.epoch)
		slog.Info("lease_released",
			slog.String("holder_id", t.HolderID()),
			slog.Int64("epoch", t.epoch))
	})
	return t.resignErr
}

