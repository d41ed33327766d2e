package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsContention reports whether err is SQLite lock contention.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// retry runs op until it succeeds, fails with a non-contention error, or the
// attempt budget runs out. The backoff is fixed.
func (s *DB) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsContention(lastErr) {
			return lastErr
		}
		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", ErrUnavailable, s.attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
