package mount

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlotWaitWakesOnPublish(t *testing.T) {
	slot := NewSlot(initialProgress())
	_, version := slot.Load()

	done := make(chan error, 1)
	go func() {
		done <- slot.Wait(context.Background(), version)
	}()

	slot.Publish(Progress{Done: 40, Total: 100})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by publish")
	}

	value, next := slot.Load()
	if next == version || value.Done != 40 {
		t.Fatalf("unexpected value %+v at version %d", value, next)
	}
}

func TestSlotReportsFinalValueBeforeClosed(t *testing.T) {
	slot := NewSlot(initialProgress())
	_, version := slot.Load()

	slot.Publish(Progress{Done: 1, Total: 1, Complete: true})
	slot.Close()

	if err := slot.Wait(context.Background(), version); err != nil {
		t.Fatalf("expected unseen value first, got %v", err)
	}
	_, version = slot.Load()
	if err := slot.Wait(context.Background(), version); !errors.Is(err, ErrSlotClosed) {
		t.Fatalf("expected ErrSlotClosed, got %v", err)
	}

	slot.Publish(Progress{Err: "late"})
	if value, _ := slot.Load(); value.Failed() {
		t.Fatal("publish after close must be ignored")
	}
}

func TestSlotWaitHonorsContext(t *testing.T) {
	slot := NewSlot(initialProgress())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := slot.Wait(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestProgressPercentage(t *testing.T) {
	cases := []struct {
		p    Progress
		want float64
	}{
		{Progress{Done: 0, Total: 100}, 0},
		{Progress{Done: 25, Total: 100}, 0.25},
		{Progress{Done: 1, Total: 1, Complete: true}, 1},
		{Progress{Done: 5, Total: 0}, 0},
		{Progress{Done: 200, Total: 100}, 1},
	}
	for _, tc := range cases {
		if got := tc.p.Percentage(); got != tc.want {
			t.Fatalf("Percentage(%+v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestProgressAdvances(t *testing.T) {
	cases := []struct {
		name string
		from Progress
		next Progress
		want bool
	}{
		{"forward", Progress{Done: 10, Total: 100}, Progress{Done: 60, Total: 100}, true},
		{"repeat", Progress{Done: 10, Total: 100}, Progress{Done: 10, Total: 100}, true},
		{"backwards", Progress{Done: 60, Total: 100}, Progress{Done: 5, Total: 100}, false},
		{"larger total lowers fraction", Progress{Done: 80, Total: 100}, Progress{Done: 10, Total: 1000}, false},
		{"larger total lowers fraction only", Progress{Done: 80, Total: 100}, Progress{Done: 100, Total: 1000}, false},
		{"smaller total lowers bytes", Progress{Done: 80, Total: 1000}, Progress{Done: 50, Total: 50}, false},
		{"larger total keeps pace", Progress{Done: 80, Total: 100}, Progress{Done: 900, Total: 1000}, true},
		{"zero total", Progress{Done: 0, Total: 100}, Progress{Done: 5, Total: 0}, false},
	}
	for _, tc := range cases {
		if got := tc.from.advances(tc.next); got != tc.want {
			t.Fatalf("%s: advances(%+v -> %+v) = %v, want %v", tc.name, tc.from, tc.next, got, tc.want)
		}
	}
}
