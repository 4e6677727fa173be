package buffer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/skorbantu/advisor/backend/internal/service/buffer"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes map[string][][]string
	notify  chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{
		flushes: make(map[string][][]string),
		notify:  make(chan struct{}, 16),
	}
}

func (f *flushRecorder) record(channelKey string, messages []string) {
	f.mu.Lock()
	f.flushes[channelKey] = append(f.flushes[channelKey], messages)
	f.mu.Unlock()
	f.notify <- struct{}{}
}

func (f *flushRecorder) get(channelKey string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes[channelKey]
}

func (f *flushRecorder) waitForFlush(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}

func TestDebounceCoalescesRapidMessages(t *testing.T) {
	rec := newFlushRecorder()
	b := buffer.New(60*time.Millisecond, rec.record)

	b.Enqueue("ch1", "a")
	time.Sleep(30 * time.Millisecond)
	b.Enqueue("ch1", "b")
	time.Sleep(30 * time.Millisecond)
	b.Enqueue("ch1", "c")

	rec.waitForFlush(t)

	flushes := rec.get("ch1")
	if len(flushes) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(flushes))
	}
	got := flushes[0]
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestDebounceIsolatesChannels(t *testing.T) {
	rec := newFlushRecorder()
	b := buffer.New(30*time.Millisecond, rec.record)

	b.Enqueue("x", "from-x")
	b.Enqueue("y", "from-y")

	rec.waitForFlush(t)
	rec.waitForFlush(t)

	xFlushes := rec.get("x")
	yFlushes := rec.get("y")
	if len(xFlushes) != 1 || len(yFlushes) != 1 {
		t.Fatalf("expected one flush per channel, got x=%d y=%d", len(xFlushes), len(yFlushes))
	}
	if xFlushes[0][0] != "from-x" {
		t.Fatalf("channel x got %v", xFlushes[0])
	}
	if yFlushes[0][0] != "from-y" {
		t.Fatalf("channel y got %v", yFlushes[0])
	}
}

func TestCancelDiscardsPending(t *testing.T) {
	rec := newFlushRecorder()
	b := buffer.New(30*time.Millisecond, rec.record)

	b.Enqueue("ch1", "doomed")
	b.Cancel("ch1")

	time.Sleep(80 * time.Millisecond)
	if flushes := rec.get("ch1"); len(flushes) != 0 {
		t.Fatalf("expected no flush after cancel, got %v", flushes)
	}
	if n := b.PendingCount("ch1"); n != 0 {
		t.Fatalf("expected empty pending state, got %d", n)
	}
}

func TestEnqueueDuringFlushStartsFreshBatch(t *testing.T) {
	rec := newFlushRecorder()
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true

	b := buffer.New(20*time.Millisecond, func(channelKey string, messages []string) {
		if first {
			first = false
			close(entered)
			<-release
		}
		rec.record(channelKey, messages)
	})

	b.Enqueue("ch1", "one")
	<-entered

	// The buffer state is already cleared; this message must start a new
	// batch, not join the in-flight one.
	b.Enqueue("ch1", "two")
	close(release)

	rec.waitForFlush(t)
	rec.waitForFlush(t)

	flushes := rec.get("ch1")
	if len(flushes) != 2 {
		t.Fatalf("expected two flushes, got %d: %v", len(flushes), flushes)
	}
	if len(flushes[0]) != 1 || flushes[0][0] != "one" {
		t.Fatalf("first flush: got %v", flushes[0])
	}
	if len(flushes[1]) != 1 || flushes[1][0] != "two" {
		t.Fatalf("second flush: got %v", flushes[1])
	}
}

func TestRestartExtendsQuietPeriod(t *testing.T) {
	rec := newFlushRecorder()
	b := buffer.New(80*time.Millisecond, rec.record)

	b.Enqueue("ch1", "a")
	time.Sleep(50 * time.Millisecond)
	b.Enqueue("ch1", "b")

	// 50ms after the restart the original window would have expired, but
	// the restarted one has not.
	time.Sleep(50 * time.Millisecond)
	if flushes := rec.get("ch1"); len(flushes) != 0 {
		t.Fatalf("flush fired before restarted window elapsed: %v", flushes)
	}

	rec.waitForFlush(t)
	flushes := rec.get("ch1")
	if len(flushes) != 1 || len(flushes[0]) != 2 {
		t.Fatalf("expected one flush with both messages, got %v", flushes)
	}
}
