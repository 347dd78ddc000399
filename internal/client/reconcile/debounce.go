package reconcile

import (
	"sync"
	"time"
)

// Debouncer keeps one pending call per key. Triggering a key again replaces
// its pending call, so only the trailing call runs.
type Debouncer struct {
	mu      sync.Mutex
	slots   map[string]debounceSlot
	gen     uint64
	stopped bool
}

type debounceSlot struct {
	timer *time.Timer
	gen   uint64
}

func NewDebouncer() *Debouncer {
	return &Debouncer{slots: make(map[string]debounceSlot)}
}

// Trigger schedules fn after delay, replacing any pending call for key.
func (d *Debouncer) Trigger(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if slot, ok := d.slots[key]; ok {
		slot.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.slots[key] = debounceSlot{
		gen: gen,
		timer: time.AfterFunc(delay, func() {
			d.mu.Lock()
			slot, ok := d.slots[key]
			if !ok || slot.gen != gen || d.stopped {
				d.mu.Unlock()
				return
			}
			delete(d.slots, key)
			d.mu.Unlock()
			fn()
		}),
	}
}

// Cancel drops the pending call for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot, ok := d.slots[key]; ok {
		slot.timer.Stop()
		delete(d.slots, key)
	}
}

// Pending reports whether key has a call waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.slots[key]
	return ok
}

// Stop cancels every pending call and rejects new ones.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, slot := range d.slots {
		slot.timer.Stop()
		delete(d.slots, key)
	}
}
