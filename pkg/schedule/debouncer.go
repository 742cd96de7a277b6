// Package schedule provides keyed debounce timers.
package schedule

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer runs fn(key) once delay has elapsed since the last Reset of key.
// Keys are independent; callbacks for different keys may run concurrently.
type Debouncer struct {
	delay time.Duration
	fn    func(key string)

	mu      sync.Mutex
	timers  map[string]*pending
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

// New creates a debouncer. A non-positive delay fires on the next tick of
// the runtime timer.
func New(delay time.Duration, fn func(key string)) *Debouncer {
	return &Debouncer{
		delay:  delay,
		fn:     fn,
		timers: make(map[string]*pending),
	}
}

// Reset (re)arms the timer for key. It is a no-op after Stop.
func (d *Debouncer) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
	d.timers[key] = p
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.timers[key]
	// A Reset or Cancel after the timer expired supersedes this run.
	if !ok || p.gen != gen || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.fn(key)
}

// Cancel disarms the timer for key and reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.timers, key)
	return true
}

// Keys returns the keys with an armed timer.
func (d *Debouncer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.timers))
	for k := range d.timers {
		keys = append(keys, k)
	}
	return keys
}

// Stop disarms every timer and waits up to timeout for running callbacks.
// It reports whether all callbacks finished in time.
func (d *Debouncer) Stop(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	for key, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
