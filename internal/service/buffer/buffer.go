// Package buffer coalesces rapid-fire inbound messages into a single
// conversation turn per channel using a debounce window.
package buffer

import (
	"sync"
	"time"
)

// FlushFunc receives the drained batch for one channel once its quiet
// period elapses. It runs on the timer goroutine; the channel's buffer
// state is already cleared when it is invoked, so a message arriving
// mid-flush starts a fresh batch instead of joining the in-flight one.
type FlushFunc func(channelKey string, messages []string)

// Buffer accumulates pending message texts per channel key and hands each
// batch to the flush callback after the configured delay with no new
// arrivals. At most one timer is live per channel at any instant: a new
// message while a timer is pending restarts it (debounce, not throttle).
type Buffer struct {
	mu      sync.Mutex
	delay   time.Duration
	flush   FlushFunc
	pending map[string]*entry
}

type entry struct {
	messages []string
	timer    *time.Timer
	// gen invalidates a timer callback that lost the race with a newer
	// enqueue for the same channel.
	gen uint64
}

// New creates a buffer that waits delay after the last message before
// flushing.
func New(delay time.Duration, flush FlushFunc) *Buffer {
	return &Buffer{
		delay:   delay,
		flush:   flush,
		pending: make(map[string]*entry),
	}
}

// Enqueue appends text to the channel's pending batch and restarts its
// debounce timer.
func (b *Buffer) Enqueue(channelKey, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[channelKey]
	if !ok {
		e = &entry{}
		b.pending[channelKey] = e
	} else {
		e.timer.Stop()
	}

	e.messages = append(e.messages, text)
	e.gen++

	gen := e.gen
	e.timer = time.AfterFunc(b.delay, func() {
		b.fire(channelKey, e, gen)
	})
}

// Cancel tears down the channel's pending batch, discarding any unflushed
// messages. Used when the channel itself goes away.
func (b *Buffer) Cancel(channelKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.pending[channelKey]; ok {
		e.timer.Stop()
		delete(b.pending, channelKey)
	}
}

// PendingCount reports how many messages are queued for the channel.
func (b *Buffer) PendingCount(channelKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.pending[channelKey]; ok {
		return len(e.messages)
	}
	return 0
}

func (b *Buffer) fire(channelKey string, e *entry, gen uint64) {
	b.mu.Lock()
	current, ok := b.pending[channelKey]
	if !ok || current != e || current.gen != gen {
		// A newer enqueue restarted the window, or the channel was torn
		// down after this timer fired.
		b.mu.Unlock()
		return
	}
	messages := current.messages
	delete(b.pending, channelKey)
	b.mu.Unlock()

	b.flush(channelKey, messages)
}
