// Package registry maps requester addresses to device identities using the
// devices table.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"jitstreamer/internal/store"
)

// ErrNotFound is returned when no device matches.
var ErrNotFound = errors.New("device not registered")

// Device is one registered device.
type Device struct {
	UDID     string
	IP       string
	LastUsed time.Time
}

// Registry reads and writes the devices table.
type Registry struct {
	db  *store.DB
	now func() time.Time
}

// New wraps db.
func New(db *store.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// ResolveIdentity returns the udid registered for ip.
func (r *Registry) ResolveIdentity(ctx context.Context, ip string) (string, error) {
	ip = normalizeIP(ip)
	var udid string
	err := r.db.QueryRow(ctx, `SELECT udid FROM devices WHERE ip = ?`, ip).Scan(&udid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no device found for IP %s", ErrNotFound, ip)
	}
	if err != nil {
		return "", fmt.Errorf("resolve device for %s: %w", ip, err)
	}
	return udid, nil
}

// Lookup returns the device row for udid.
func (r *Registry) Lookup(ctx context.Context, udid string) (Device, error) {
	var (
		d        Device
		lastUsed sql.NullString
	)
	err := r.db.QueryRow(ctx, `SELECT udid, ip, last_used FROM devices WHERE udid = ?`, udid).
		Scan(&d.UDID, &d.IP, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, udid)
	}
	if err != nil {
		return Device{}, fmt.Errorf("lookup device %s: %w", udid, err)
	}
	d.LastUsed = parseLastUsed(lastUsed)
	return d, nil
}

// Upsert records udid at ip. Any other device holding ip loses it.
func (r *Registry) Upsert(ctx context.Context, udid, ip string) error {
	udid = strings.TrimSpace(udid)
	if udid == "" {
		return errors.New("upsert device: udid is required")
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return fmt.Errorf("upsert device: invalid ip %q: %w", ip, err)
	}
	ip = addr.Unmap().String()

	return r.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE ip = ? AND udid != ?`, ip, udid); err != nil {
			return fmt.Errorf("release ip %s: %w", ip, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (udid, ip) VALUES (?, ?)
			 ON CONFLICT(udid) DO UPDATE SET ip = excluded.ip`,
			udid, ip,
		); err != nil {
			return fmt.Errorf("upsert device %s: %w", udid, err)
		}
		return nil
	})
}

// Touch stamps last_used for udid.
func (r *Registry) Touch(ctx context.Context, udid string) error {
	res, err := r.db.Exec(ctx, `UPDATE devices SET last_used = ? WHERE udid = ?`,
		r.now().UTC().Format(time.RFC3339), udid)
	if err != nil {
		return fmt.Errorf("touch device %s: %w", udid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, udid)
	}
	return nil
}

// List returns every registered device ordered by udid.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.Query(ctx, `SELECT udid, ip, last_used FROM devices ORDER BY udid`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			d        Device
			lastUsed sql.NullString
		)
		if err := rows.Scan(&d.UDID, &d.IP, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.LastUsed = parseLastUsed(lastUsed)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Remove deletes the registration for udid.
func (r *Registry) Remove(ctx context.Context, udid string) error {
	res, err := r.db.Exec(ctx, `DELETE FROM devices WHERE udid = ?`, udid)
	if err != nil {
		return fmt.Errorf("remove device %s: %w", udid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, udid)
	}
	return nil
}

func parseLastUsed(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value.String)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// normalizeIP strips IPv4-in-IPv6 mapping so addresses from dual-stack
// listeners match stored IPv4 rows.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if addr, err := netip.ParseAddr(ip); err == nil {
		return addr.Unmap().String()
	}
	return ip
}
