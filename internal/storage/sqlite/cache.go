package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fragcache "github.com/eugener/fragcache/internal"
)

// Times are stored as Unix nanoseconds; 0 means "none".

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Get returns the live value under key. Sliding entries get their deadline
// pushed forward on every hit.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value                          []byte
		expiresAt, slidingNs, absolute int64
	)
	err := b.read.QueryRowContext(ctx,
		`SELECT value, expires_at, sliding_ns, absolute_at FROM cache_entries WHERE id = ?`, key,
	).Scan(&value, &expiresAt, &slidingNs, &absolute)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite cache get: %w", err)
	}

	now := b.clock.Now()
	if expiresAt != 0 && now.UnixNano() >= expiresAt {
		// Conditional on the deadline we read so a concurrent rewrite survives.
		if _, err := b.write.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE id = ? AND expires_at = ?`, key, expiresAt,
		); err != nil {
			return nil, false, fmt.Errorf("sqlite cache delete expired: %w", err)
		}
		return nil, false, nil
	}

	if slidingNs > 0 {
		exp := fragcache.Expiry{AbsoluteAt: fromNanos(absolute), Sliding: time.Duration(slidingNs)}
		next := toNanos(exp.Deadline(now))
		if next != expiresAt {
			if _, err := b.write.ExecContext(ctx,
				`UPDATE cache_entries SET expires_at = ? WHERE id = ? AND expires_at = ?`,
				next, key, expiresAt,
			); err != nil {
				return nil, false, fmt.Errorf("sqlite cache refresh: %w", err)
			}
		}
	}

	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Set upserts value under key with the resolved expiration.
func (b *Backend) Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	now := b.clock.Now()
	exp, err := opts.Resolve(now)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	_, err = b.write.ExecContext(ctx,
		`INSERT INTO cache_entries (id, value, expires_at, sliding_ns, absolute_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   sliding_ns = excluded.sliding_ns,
		   absolute_at = excluded.absolute_at`,
		key, value, toNanos(exp.Deadline(now)), int64(exp.Sliding), toNanos(exp.AbsoluteAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite cache set: %w", err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (b *Backend) Remove(ctx context.Context, key string) error {
	if _, err := b.write.ExecContext(ctx, `DELETE FROM cache_entries WHERE id = ?`, key); err != nil {
		return fmt.Errorf("sqlite cache remove: %w", err)
	}
	return nil
}

// DeleteExpired removes every entry whose deadline has passed and returns the
// number of rows deleted.
func (b *Backend) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := b.write.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?`,
		b.clock.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite cache delete expired: %w", err)
	}
	return res.RowsAffected()
}
