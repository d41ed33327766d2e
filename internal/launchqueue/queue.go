package launchqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jitstreamer/internal/store"
)

// Queue reads and writes the launch_queue table.
type Queue struct {
	db *store.DB
}

// New wraps db.
func New(db *store.DB) *Queue {
	return &Queue{db: db}
}

// Status reports where udid stands. A failed row is deleted as it is read.
// Store faults wrap store.ErrUnavailable.
func (q *Queue) Status(ctx context.Context, udid string) (Info, error) {
	var info Info
	err := q.db.Tx(ctx, func(tx *sql.Tx) error {
		info = Info{}
		var (
			ordinal int64
			status  Status
			message sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT ordinal, status, error FROM launch_queue WHERE udid = ? ORDER BY ordinal LIMIT 1`,
			udid,
		).Scan(&ordinal, &status, &message)
		if errors.Is(err, sql.ErrNoRows) {
			info.Kind = NotInQueue
			return nil
		}
		if err != nil {
			return err
		}

		switch status {
		case StatusRunning:
			info.Kind = Position
			return nil
		case StatusError:
			if _, err := tx.ExecContext(ctx, `DELETE FROM launch_queue WHERE ordinal = ?`, ordinal); err != nil {
				return err
			}
			info.Kind = Failed
			info.Message = unknownError
			if message.Valid && strings.TrimSpace(message.String) != "" {
				info.Message = message.String
			}
			return nil
		}

		position, err := countAhead(ctx, tx, ordinal)
		if err != nil {
			return err
		}
		info.Kind = Position
		info.Position = position
		return nil
	})
	if err != nil {
		return Info{}, fmt.Errorf("queue status: %w", err)
	}
	return info, nil
}

func countAhead(ctx context.Context, tx *sql.Tx, ordinal int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM launch_queue WHERE ordinal < ? AND status = ?`,
		ordinal, StatusPending,
	).Scan(&n)
	return n, err
}

// Enqueue inserts a pending row and returns its position. Callers check
// Status first; the table does not deduplicate devices.
func (q *Queue) Enqueue(ctx context.Context, udid, ip, bundleID string) (int, error) {
	if strings.TrimSpace(bundleID) == "" {
		return 0, errors.New("enqueue: bundle id is required")
	}
	var position int
	err := q.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO launch_queue (udid, ip, bundle_id, status) VALUES (?, ?, ?, ?)`,
			udid, ip, bundleID, StatusPending,
		)
		if err != nil {
			return err
		}
		ordinal, err := res.LastInsertId()
		if err != nil {
			return err
		}
		position, err = countAhead(ctx, tx, ordinal)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue launch: %w", err)
	}
	return position, nil
}

// DrainAll deletes every row and returns how many were removed.
func (q *Queue) DrainAll(ctx context.Context) (int64, error) {
	res, err := q.db.Exec(ctx, `DELETE FROM launch_queue`)
	if err != nil {
		return 0, fmt.Errorf("drain launch queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("drain launch queue: %w", err)
	}
	return n, nil
}

// Claim marks the oldest pending row running and returns it, or nil when
// nothing is pending. This is the external worker's half of the contract.
func (q *Queue) Claim(ctx context.Context) (*Entry, error) {
	var entry *Entry
	err := q.db.Tx(ctx, func(tx *sql.Tx) error {
		entry = nil
		row := tx.QueryRowContext(ctx,
			`SELECT ordinal, udid, ip, bundle_id, status, error, created_at
			 FROM launch_queue WHERE status = ? ORDER BY ordinal LIMIT 1`,
			StatusPending,
		)
		e, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE launch_queue SET status = ? WHERE ordinal = ?`, StatusRunning, e.Ordinal,
		); err != nil {
			return err
		}
		e.Status = StatusRunning
		entry = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim launch: %w", err)
	}
	return entry, nil
}

// Complete removes a row after a successful launch.
func (q *Queue) Complete(ctx context.Context, ordinal int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM launch_queue WHERE ordinal = ?`, ordinal); err != nil {
		return fmt.Errorf("complete launch %d: %w", ordinal, err)
	}
	return nil
}

// Fail records a launch failure for delivery through Status.
func (q *Queue) Fail(ctx context.Context, ordinal int64, message string) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE launch_queue SET status = ?, error = ? WHERE ordinal = ?`,
		StatusError, message, ordinal,
	); err != nil {
		return fmt.Errorf("fail launch %d: %w", ordinal, err)
	}
	return nil
}

// List returns every row in ordinal order.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT ordinal, udid, ip, bundle_id, status, error, created_at
		 FROM launch_queue ORDER BY ordinal`,
	)
	if err != nil {
		return nil, fmt.Errorf("list launch queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list launch queue: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list launch queue: %w", err)
	}
	return entries, nil
}

// Stats counts rows by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.Query(ctx, `SELECT status, COUNT(*) FROM launch_queue GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("queue stats: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusError:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e       Entry
		message sql.NullString
		created string
	)
	if err := row.Scan(&e.Ordinal, &e.UDID, &e.IP, &e.BundleID, &e.Status, &message, &created); err != nil {
		return nil, err
	}
	e.Error = message.String
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = ts
	}
	return &e, nil
}
