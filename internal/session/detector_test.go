package session

import (
	"context"
	"testing"
	"time"
)

func TestDetectorDisabled(t *testing.T) {
	if d := NewDetector(0); d != nil {
		t.Fatalf("expected nil detector for zero ttl, got %+v", d)
	}
	var d *Detector
	d.OnIdle(func(time.Time) { t.Fatal("nil detector must not fire") })
	d.Run(context.Background())
}

func TestDetectorFiresWithCutoff(t *testing.T) {
	d := NewDetector(time.Minute)
	d.interval = 10 * time.Millisecond
	d.now = func() time.Time { return t0 }

	got := make(chan time.Time, 1)
	d.OnIdle(func(before time.Time) {
		select {
		case got <- before:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case before := <-got:
		if !before.Equal(t0.Add(-time.Minute)) {
			t.Fatalf("expected cutoff one ttl ago, got %s", before)
		}
	case <-time.After(time.Second):
		t.Fatal("expected idle callback to fire")
	}
}
