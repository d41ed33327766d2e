package api

import (
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/mount"
)

func errorText(msg string) *string {
	return &msg
}

// FromProgress converts a broker value into a websocket frame.
func FromProgress(p mount.Progress) MountProgressMessage {
	if p.Failed() {
		return MountProgressMessage{OK: false, Error: errorText(p.Err)}
	}
	return MountProgressMessage{
		OK:         true,
		Percentage: p.Percentage(),
		Done:       p.Complete,
	}
}

// FromEntry converts a queue row.
func FromEntry(e launchqueue.Entry) QueueItem {
	item := QueueItem{
		Ordinal:  e.Ordinal,
		UDID:     e.UDID,
		IP:       e.IP,
		BundleID: e.BundleID,
		Status:   e.Status.String(),
		Error:    e.Error,
	}
	if !e.CreatedAt.IsZero() {
		item.CreatedAt = e.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return item
}

// FromEntries converts rows, never returning nil.
func FromEntries(entries []launchqueue.Entry) []QueueItem {
	items := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, FromEntry(e))
	}
	return items
}

// FromStats converts queue counts.
func FromStats(s launchqueue.Stats) QueueStats {
	return QueueStats{
		Pending: s.Pending,
		Running: s.Running,
		Failed:  s.Failed,
		Total:   s.Total(),
	}
}
