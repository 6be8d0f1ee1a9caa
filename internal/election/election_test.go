package election

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// abandon stops renewing without releasing, as a crashed process would.
func (t *Term) abandon() {
	t.resignOnce.Do(func() {
		close(t.stop)
		<-t.done
	})
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(context.Background(), path, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fastOptions(holder string) Options {
	return Options{
		TTL:            300 * time.Millisecond,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		HolderID:       holder,
	}
}

func TestTryAcquire_SecondElectorSeesLeaseHeld(t *testing.T) {
	// Given: two processes sharing one database
	path := store.DatabasePath(t.TempDir())
	a := New(openStore(t, path), fastOptions("a"))
	b := New(openStore(t, path), fastOptions("b"))
	ctx := context.Background()

	// When: both try once
	term, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	defer func() { _ = term.Resign(ctx) }()

	_, err = b.TryAcquire(ctx)

	// Then: only the first leads
	assert.Equal(t, int64(1), term.Epoch())
	assert.Equal(t, StateLeading, term.State())
	assert.ErrorIs(t, err, ierrors.ErrLeaseHeld)
}

func TestTerm_HeartbeatKeepsLeaseAlive(t *testing.T) {
	path := store.DatabasePath(t.TempDir())
	a := New(openStore(t, path), fastOptions("a"))
	b := New(openStore(t, path), fastOptions("b"))
	ctx := context.Background()

	term, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	defer func() { _ = term.Resign(ctx) }()

	// Well past one TTL the heartbeat must still be holding the lease.
	time.Sleep(3 * a.TTL())

	_, err = b.TryAcquire(ctx)
	assert.ErrorIs(t, err, ierrors.ErrLeaseHeld)
	assert.Equal(t, StateLeading, term.State())
	assert.NoError(t, term.Context().Err())
}

func TestCampaign_FailoverAfterLeaderCrash(t *testing.T) {
	// Given: a leader that stops renewing without releasing
	path := store.DatabasePath(t.TempDir())
	a := New(openStore(t, path), fastOptions("a"))
	b := New(openStore(t, path), fastOptions("b"))
	ctx := context.Background()

	old, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	old.abandon()
	crashedAt := time.Now()

	// When: another process campaigns
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	term, err := b.Campaign(cctx)
	require.NoError(t, err)
	defer func() { _ = term.Resign(ctx) }()

	// Then: it takes over within TTL plus backoff with a greater epoch
	assert.Greater(t, term.Epoch(), old.Epoch())
	assert.Less(t, time.Since(crashedAt), b.TTL()+time.Second)
}

func TestResign_ReleasesForImmediateTakeover(t *testing.T) {
	path := store.DatabasePath(t.TempDir())
	a := New(openStore(t, path), Options{TTL: time.Minute, HolderID: "a"})
	b := New(openStore(t, path), Options{TTL: time.Minute, HolderID: "b"})
	ctx := context.Background()

	term, err := a.TryAcquire(ctx)
	require.NoError(t, err)

	// When: the leader resigns
	require.NoError(t, term.Resign(ctx))

	// Then: its context is cancelled and the lease is free at once
	assert.Equal(t, StateDemoted, term.State())
	assert.ErrorIs(t, term.Context().Err(), context.Canceled)

	next, err := b.TryAcquire(ctx)
	require.NoError(t, err)
	defer func() { _ = next.Resign(ctx) }()
	assert.Equal(t, int64(2), next.Epoch())

	// Resign is idempotent.
	assert.NoError(t, term.Resign(ctx))
}

func TestCampaign_StopsOnContextCancel(t *testing.T) {
	path := store.DatabasePath(t.TempDir())
	a := New(openStore(t, path), Options{TTL: time.Minute, HolderID: "a"})
	b := New(openStore(t, path), fastOptions("b"))

	term, err := a.TryAcquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = term.Resign(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = b.Campaign(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// scriptedLease answers renewals from a script, for demotion paths.
type scriptedLease struct {
	mu       sync.Mutex
	renewOK  bool
	renewErr error
	renews   atomic.Int32
	released atomic.Bool
}

func (s *scriptedLease) TryAcquireLease(_ context.Context, holder string, ttl time.Duration) (store.LeaseResult, error) {
	return store.LeaseResult{Granted: true, Holder: holder, Epoch: 7, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (s *scriptedLease) RenewLease(context.Context, string, int64, time.Duration) (bool, error) {
	s.renews.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewOK, s.renewErr
}

func (s *scriptedLease) ReleaseLease(context.Context, string, int64) error {
	s.released.Store(true)
	return nil
}

func (s *scriptedLease) set(ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewOK, s.renewErr = ok, err
}

func TestTerm_RefusedRenewalDemotes(t *testing.T) {
	// Given: a leader whose lease has been taken over
	lease := &scriptedLease{}
	lease.set(false, nil)
	e := New(lease, fastOptions("a"))

	term, err := e.TryAcquire(context.Background())
	require.NoError(t, err)

	// When: the next heartbeat runs
	select {
	case <-term.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("term was not demoted")
	}

	// Then: the term is demoted and resigning does not release
	assert.Equal(t, StateDemoted, term.State())
	require.NoError(t, term.Resign(context.Background()))
	assert.False(t, lease.released.Load())
}

func TestTerm_RenewalErrorsToleratedUntilExpiry(t *testing.T) {
	// Given: a store that errors on every renewal
	lease := &scriptedLease{}
	lease.set(false, errors.New("disk I/O error"))
	e := New(lease, fastOptions("a"))

	term, err := e.TryAcquire(context.Background())
	require.NoError(t, err)
	start := time.Now()

	// When: renewals keep failing
	select {
	case <-term.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("term was not demoted")
	}

	// Then: demotion waits for the lease's own expiry
	assert.GreaterOrEqual(t, time.Since(start), e.TTL()-50*time.Millisecond)
	assert.GreaterOrEqual(t, lease.renews.Load(), int32(2))
	assert.Equal(t, StateDemoted, term.State())
}

func TestTerm_FenceCarriesHolderAndEpoch(t *testing.T) {
	lease := &scriptedLease{}
	lease.set(true, nil)
	e := New(lease, fastOptions("holder-x"))

	term, err := e.TryAcquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = term.Resign(context.Background()) }()

	assert.Equal(t, store.Fence{HolderID: "holder-x", Epoch: 7}, term.Fence())
}

func TestNewHolderID_UniqueAndStructured(t *testing.T) {
	a, b := NewHolderID(), NewHolderID()
	assert.NotEqual(t, a, b)
	assert.Len(t, strings.Split(a, ":"), 3)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 15*time.Second, o.TTL)
	assert.Equal(t, 5*time.Second, o.Heartbeat)
	assert.NotEmpty(t, o.HolderID)

	cfg := config.NewConfig().Election
	cfg.LeaseTTL = 9 * time.Second
	o = OptionsFromConfig(cfg).withDefaults()
	assert.Equal(t, 3*time.Second, o.Heartbeat)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unelected", StateUnelected.String())
	assert.Equal(t, "leading", StateLeading.String())
	assert.Equal(t, "demoted", StateDemoted.String())
}
