package session

import (
	"context"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) IsEnabled() bool { return false }

func (nopLogger) CreateSession(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

func (nopLogger) EndSession(context.Context, string) (bool, error) { return false, nil }

func (nopLogger) LogSystemMessage(context.Context, string, string) (string, error) {
	return "", nil
}

func (nopLogger) UpdateSessionAnalytics(context.Context, string) (bool, error) {
	return false, nil
}

type nopKnowledge struct{}

func (nopKnowledge) Content() string { return "kb" }

func TestSweepSparesSessionActiveAfterScan(t *testing.T) {
	reg := NewRegistry(nopLogger{}, nopKnowledge{}, 20)
	ctx := context.Background()
	reg.GetOrCreate(ctx, "ch1", "user_1", Meta{})

	// The session looked idle when the sweep scanned, but activity came in
	// before its turn to be destroyed.
	cutoff := time.Now()
	reg.Touch("ch1")

	if reg.endIfIdleSince(ctx, "ch1", cutoff) {
		t.Fatal("session touched after the scan was destroyed")
	}
	if _, ok := reg.Get("ch1"); !ok {
		t.Fatal("session vanished")
	}

	// Still idle past the cutoff: destroyed as usual.
	time.Sleep(20 * time.Millisecond)
	if !reg.endIfIdleSince(ctx, "ch1", time.Now()) {
		t.Fatal("idle session survived")
	}
	if _, ok := reg.Get("ch1"); ok {
		t.Fatal("session still registered after end")
	}

	if reg.endIfIdleSince(ctx, "ghost", time.Now()) {
		t.Fatal("unknown channel reported ended")
	}
}
