// Package debounce implements a trailing-edge debouncer with a synchronous
// trigger, used to coalesce bursts of writes to the on-disk caches owned by
// the metadata store, the blob store, the song-key map, and the ignore-rule
// set into a single save.
package debounce

import (
	"sync"
	"time"
)

type state int

const (
	stateIdle state = iota
	statePending
	stateRunning
)

// Debouncer arms a timer on Schedule and runs save after the configured
// delay has elapsed with no further Schedule calls. Trigger fires save
// immediately (cancelling any pending timer) and blocks until it completes.
type Debouncer struct {
	delay time.Duration
	save  func() error

	mu      sync.Mutex
	st      state
	timer   *time.Timer
	rerun   bool // a Schedule arrived while Running; re-save once it finishes
	waiters []chan error
}

// New returns a Debouncer that calls save after delay of inactivity.
func New(delay time.Duration, save func() error) *Debouncer {
	return &Debouncer{delay: delay, save: save}
}

// Schedule arms or re-arms the trailing-edge timer. Safe to call repeatedly;
// each call resets the deadline another delay into the future.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.st {
	case stateRunning:
		d.rerun = true
		return
	case statePending:
		d.timer.Reset(d.delay)
		return
	default:
		d.st = statePending
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
}

// fire is invoked by the timer; it transitions Pending -> Running and calls
// save synchronously, then resolves any Trigger waiters.
func (d *Debouncer) fire() {
	d.mu.Lock()
	d.st = stateRunning
	d.mu.Unlock()

	err := d.save()

	d.mu.Lock()
	waiters := d.waiters
	d.waiters = nil
	rerun := d.rerun
	d.rerun = false
	if rerun {
		d.st = statePending
		d.timer = time.AfterFunc(d.delay, d.fire)
	} else {
		d.st = stateIdle
	}
	d.mu.Unlock()

	for _, w := range waiters {
		w <- err
		close(w)
	}
}

// Trigger fires the pending save immediately (or starts one if idle) and
// waits for it to complete, returning its error.
func (d *Debouncer) Trigger() error {
	d.mu.Lock()
	switch d.st {
	case stateIdle:
		d.st = statePending
		if d.timer != nil {
			d.timer.Stop()
		}
		ch := make(chan error, 1)
		d.waiters = append(d.waiters, ch)
		d.mu.Unlock()
		go d.fire()
		return <-ch
	case statePending:
		d.timer.Stop()
		ch := make(chan error, 1)
		d.waiters = append(d.waiters, ch)
		d.mu.Unlock()
		go d.fire()
		return <-ch
	default: // Running: ride along with the in-flight save, or the rerun after it
		ch := make(chan error, 1)
		d.waiters = append(d.waiters, ch)
		d.mu.Unlock()
		return <-ch
	}
}

// Stop cancels any pending timer without saving. Used on shutdown paths
// that already called Trigger and don't want a trailing duplicate save.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.st = stateIdle
}
