// Package election implements leader election over the store's lease row.
//
// At most one process per workspace holds a live lease. The holder runs a
// heartbeat that renews the lease well inside its TTL; when a renewal is
// refused, or renewals keep failing past the lease's own expiry, the term
// is demoted and its context cancelled. Writes issued under a superseded
// epoch are rejected by the store's fence check, so a demoted leader that
// has not noticed yet cannot corrupt the index.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// LeaseStore is the subset of the store used for election.
type LeaseStore interface {
	TryAcquireLease(ctx context.Context, holder string, ttl time.Duration) (store.LeaseResult, error)
	RenewLease(ctx context.Context, holder string, epoch int64, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, holder string, epoch int64) error
}

// Options configures an Elector. Zero values take defaults.
type Options struct {
	// TTL is how long a granted or renewed lease stays live.
	TTL time.Duration
	// Heartbeat is the renewal period; zero means TTL/3.
	Heartbeat time.Duration
	// InitialBackoff and MaxBackoff bound the campaign retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// HolderID overrides the generated process token.
	HolderID string
}

const (
	defaultTTL            = 15 * time.Second
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// OptionsFromConfig maps the election config section onto Options.
func OptionsFromConfig(cfg config.ElectionConfig) Options {
	return Options{
		TTL:            cfg.LeaseTTL,
		Heartbeat:      cfg.EffectiveHeartbeat(),
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.Heartbeat <= 0 || o.Heartbeat >= o.TTL {
		o.Heartbeat = o.TTL / 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(defaultMaxBackoff, o.InitialBackoff)
	}
	if o.HolderID == "" {
		o.HolderID = NewHolderID()
	}
	return o
}

// NewHolderID returns a process-unique token of the form hostname:pid:uuid.
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// Elector campaigns for the lease on behalf of one process.
type Elector struct {
	store LeaseStore
	opts  Options
}

// New creates an Elector over s.
func New(s LeaseStore, opts Options) *Elector {
	return &Elector{store: s, opts: opts.withDefaults()}
}

// HolderID returns the token this elector acquires the lease under.
func (e *Elector) HolderID() string {
	return e.opts.HolderID
}

// TTL returns the effective lease TTL.
func (e *Elector) TTL() time.Duration {
	return e.opts.TTL
}

// TryAcquire makes a single attempt at the lease. It returns ErrLeaseHeld
// when another holder's lease is live.
func (e *Elector) TryAcquire(ctx context.Context) (*Term, error) {
	res, err := e.store.TryAcquireLease(ctx, e.opts.HolderID, e.opts.TTL)
	if err != nil {
		return nil, err
	}
	if !res.Granted {
		return nil, ierrors.New(ierrors.ErrCodeLeaseHeld, "lease is held by another process", nil).
			WithDetail("holder_id", res.Holder).
			WithDetail("epoch", fmt.Sprintf("%d", res.Epoch))
	}

	slog.Info("lease_acquired",
		slog.String("holder_id", e.opts.HolderID),
		slog.Int64("epoch", res.Epoch),
		slog.Duration("ttl", e.opts.TTL))

	return startTerm(ctx, e, res), nil
}

// Campaign retries TryAcquire with bounded exponential backoff until the
// lease is granted or ctx is done. Store errors are logged and retried.
func (e *Elector) Campaign(ctx context.Context) (*Term, error) {
	backoff := ierrors.RetryConfig{
		InitialDelay: e.opts.InitialBackoff,
		MaxDelay:     e.opts.MaxBackoff,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for attempt := 0; ; attempt++ {
		term, err := e.TryAcquire(ctx)
		if err == nil {
			return term, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ierrors.ErrLeaseHeld) {
			slog.Warn("campaign_attempt_failed",
				slog.String("holder_id", e.opts.HolderID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		// Delay caps at MaxDelay, so the attempt counter only needs to
		// grow until it gets there.
		timer := time.NewTimer(backoff.Delay(min(attempt, 32)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
