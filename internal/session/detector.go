package session

import (
	"context"
	"sync"
	"time"
)

// Detector fires a callback on a fixed interval with the cutoff before
// which sessions count as idle.
type Detector struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	onIdle func(before time.Time)
}

// NewDetector returns nil for a non-positive ttl; a nil Detector never fires.
func NewDetector(ttl time.Duration) *Detector {
	if ttl <= 0 {
		return nil
	}
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return &Detector{ttl: ttl, interval: interval, now: time.Now}
}

func (d *Detector) OnIdle(callback func(before time.Time)) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onIdle = callback
}

// Run ticks until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	if d == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.fire()
		}
	}
}

func (d *Detector) fire() {
	d.mu.Lock()
	callback := d.onIdle
	d.mu.Unlock()

	if callback != nil {
		callback(d.now().Add(-d.ttl))
	}
}
