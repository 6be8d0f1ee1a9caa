package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// TryAcquireLease attempts to take or extend the leader lease for holder.
//
// With no lease row the holder gets epoch 1. A holder that still owns a
// live lease keeps its epoch and has the expiry pushed out. An expired or
// released lease is taken over with epoch+1. Otherwise the attempt is
// refused and the result describes the current holder.
func (s *SQLiteStore) TryAcquireLease(ctx context.Context, holder string, ttl time.Duration) (LeaseResult, error) {
	var res LeaseResult
	err := s.write(ctx, "acquire lease", nil, func(tx *sql.Tx) error {
		now := s.now()
		expires := now.Add(ttl)

		cur, err := readLease(ctx, tx)
		switch {
		case err != nil:
			return err
		case cur == nil:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO lease (id, holder_id, epoch, expires_at) VALUES (1, ?, 1, ?)`,
				holder, expires.UnixNano())
			res = LeaseResult{Granted: true, Holder: holder, Epoch: 1, ExpiresAt: expires}
		case cur.HolderID == holder && cur.Live(now):
			_, err = tx.ExecContext(ctx, `UPDATE lease SET expires_at = ? WHERE id = 1`, expires.UnixNano())
			res = LeaseResult{Granted: true, Holder: holder, Epoch: cur.Epoch, ExpiresAt: expires}
		case !cur.Live(now):
			epoch := cur.Epoch + 1
			_, err = tx.ExecContext(ctx,
				`UPDATE lease SET holder_id = ?, epoch = ?, expires_at = ? WHERE id = 1`,
				holder, epoch, expires.UnixNano())
			res = LeaseResult{Granted: true, Holder: holder, Epoch: epoch, ExpiresAt: expires}
		default:
			res = LeaseResult{Granted: false, Holder: cur.HolderID, Epoch: cur.Epoch, ExpiresAt: cur.ExpiresAt}
		}
		return err
	})
	if err != nil {
		return LeaseResult{}, err
	}

	if res.Granted {
		slog.Debug("lease_granted",
			slog.String("holder_id", holder),
			slog.Int64("epoch", res.Epoch),
			slog.Time("expires_at", res.ExpiresAt))
	}
	return res, nil
}

// RenewLease extends the lease if holder still owns epoch and has not
// released it. False means the lease was lost.
func (s *SQLiteStore) RenewLease(ctx context.Context, holder string, epoch int64, ttl time.Duration) (bool, error) {
	var renewed bool
	err := s.write(ctx, "renew lease", nil, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			`UPDATE lease SET expires_at = ? WHERE id = 1 AND holder_id = ? AND epoch = ? AND expires_at > 0`,
			s.now().Add(ttl).UnixNano(), holder, epoch)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		renewed = n == 1
		return err
	})
	return renewed, err
}

// ReleaseLease gives the lease up by expiring it immediately. The epoch is
// kept so the next holder moves past it. Releasing a lease that has
// already moved on is a no-op.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, holder string, epoch int64) error {
	return s.write(ctx, "release lease", nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE lease SET expires_at = 0 WHERE id = 1 AND holder_id = ? AND epoch = ?`,
			holder, epoch)
		return err
	})
}

// GetLease returns the current lease row, or nil if none was ever granted.
func (s *SQLiteStore) GetLease(ctx context.Context) (*Lease, error) {
	var l *Lease
	err := s.read(ctx, "read lease", func(tx *sql.Tx) error {
		var err error
		l, err = readLease(ctx, tx)
		return err
	})
	return l, err
}

func readLease(ctx context.Context, tx *sql.Tx) (*Lease, error) {
	var (
		l       Lease
		expires int64
	)
	err := tx.QueryRowContext(ctx, `SELECT holder_id, epoch, expires_at FROM lease WHERE id = 1`).
		Scan(&l.HolderID, &l.Epoch, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.ExpiresAt = fromUnixNanos(expires)
	return &l, nil
}

// checkFence verifies inside tx that fence still names the lease holder
// and epoch and that the lease has not been released.
func (s *SQLiteStore) checkFence(ctx context.Context, tx *sql.Tx, fence Fence) error {
	cur, err := readLease(ctx, tx)
	if err != nil {
		return err
	}
	if cur == nil || cur.HolderID != fence.HolderID || cur.Epoch != fence.Epoch || cur.ExpiresAt.IsZero() {
		return ierrors.ElectionLost(fence.HolderID, fence.Epoch)
	}
	return nil
}
