package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TryLock takes the named lease for ttl if it is free or expired. The
// returned release func gives it back early; it is safe to call once.
func (s *SQLiteDB) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	holder := uuid.NewString()
	now := time.Now()
	expires := toMillis(now.Add(ttl))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder_id = excluded.holder_id, expires_at = excluded.expires_at
		WHERE leases.expires_at < ?`,
		name, holder, expires, toMillis(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT holder_id FROM leases WHERE name = ?`, name).Scan(&current); err != nil {
		return nil, false, fmt.Errorf("failed to read lease %s: %w", name, err)
	}
	if current != holder {
		return nil, false, nil
	}

	release := func() {
		// background context: release must happen even when ctx was cancelled
		_, _ = s.db.ExecContext(context.Background(),
			`DELETE FROM leases WHERE name = ? AND holder_id = ?`, name, holder)
	}
	return release, true, nil
}
