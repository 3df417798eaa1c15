package feedback

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

func testConfig(bufferSize int) config.FeedbackConfig {
	return config.FeedbackConfig{
		Enabled:        true,
		BufferSize:     bufferSize,
		AllowAnonymous: true,
	}
}

func report(id string) *hook.ValidationReport {
	return &hook.ValidationReport{
		ReportID:      id,
		ToolType:      hook.ToolWrite,
		Result:        hook.ResultPassed,
		SecurityScore: 1.0,
		Timestamp:     time.Now(),
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := newRing(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.push(Event{Type: "validation_event", Report: report(id)})
	}

	snap := r.snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(snap))
	}
	want := []string{"c", "d", "e"}
	for i, e := range snap {
		if e.Report.ReportID != want[i] {
			t.Fatalf("snapshot[%d] = %q, want %q", i, e.Report.ReportID, want[i])
		}
	}
}

func TestRingPartiallyFilled(t *testing.T) {
	r := newRing(10)
	r.push(Event{Type: "system_update"})

	snap := r.snapshot()
	if len(snap) != 1 || snap[0].Type != "system_update" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
}

func TestBroadcasterBuffersAndLimits(t *testing.T) {
	b := NewBroadcaster(testConfig(5), zap.NewNop())

	for i := 0; i < 8; i++ {
		b.SendValidationUpdate(report(string(rune('a' + i))))
	}

	all := b.RecentEvents(0)
	if len(all) != 5 {
		t.Fatalf("buffer should hold 5, got %d", len(all))
	}
	last2 := b.RecentEvents(2)
	if len(last2) != 2 {
		t.Fatalf("expected 2 events, got %d", len(last2))
	}
	if last2[1].Report.ReportID != "h" {
		t.Fatalf("newest event should be last, got %q", last2[1].Report.ReportID)
	}
}

func TestBroadcasterDisabledIsNoOp(t *testing.T) {
	cfg := testConfig(5)
	cfg.Enabled = false
	b := NewBroadcaster(cfg, zap.NewNop())

	called := false
	b.RegisterCallback(func(Event) { called = true }, false)
	b.SendValidationUpdate(report("x"))

	if called {
		t.Fatal("disabled broadcaster must not invoke callbacks")
	}
	if events := b.RecentEvents(0); events != nil {
		t.Fatalf("disabled broadcaster must not buffer: %v", events)
	}
	if b.subscribe() != nil {
		t.Fatal("disabled broadcaster must refuse subscribers")
	}
}

func TestBroadcasterSyncCallback(t *testing.T) {
	b := NewBroadcaster(testConfig(5), zap.NewNop())

	var got []string
	b.RegisterCallback(func(e Event) {
		if e.Report != nil {
			got = append(got, e.Report.ReportID)
		}
	}, false)

	b.SendValidationUpdate(report("r1"))
	b.SendSystemUpdate(map[string]any{"event": "test"})

	if len(got) != 1 || got[0] != "r1" {
		t.Fatalf("unexpected callback deliveries: %v", got)
	}
}

func TestBroadcasterAsyncCallback(t *testing.T) {
	b := NewBroadcaster(testConfig(5), zap.NewNop())

	delivered := make(chan struct{}, 1)
	b.RegisterCallback(func(e Event) {
		delivered <- struct{}{}
	}, true)

	b.SendValidationUpdate(report("r1"))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("async callback never ran")
	}
}

func TestBroadcasterSubscriberReceives(t *testing.T) {
	b := NewBroadcaster(testConfig(5), zap.NewNop())

	sub := b.subscribe()
	if sub == nil {
		t.Fatal("subscribe returned nil")
	}
	defer b.unsubscribe(sub)

	b.SendValidationUpdate(report("r1"))

	select {
	case e := <-sub.ch:
		if e.Report.ReportID != "r1" {
			t.Fatalf("got %q, want r1", e.Report.ReportID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestBroadcasterPrunesUnresponsiveSubscriber(t *testing.T) {
	b := NewBroadcaster(testConfig(1), zap.NewNop())

	sub := b.subscribe()
	if sub == nil {
		t.Fatal("subscribe returned nil")
	}

	// Channel capacity 1: the first publish fills it, the following ones
	// fail until the failure limit evicts the subscriber.
	for i := 0; i < 2+subscriberFailureLimit; i++ {
		b.SendValidationUpdate(report("x"))
	}

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("unresponsive subscriber should be pruned, count=%d", got)
	}
}

func TestBroadcasterStopClosesSubscribers(t *testing.T) {
	b := NewBroadcaster(testConfig(5), zap.NewNop())

	sub := b.subscribe()
	b.Stop()

	select {
	case _, ok := <-sub.ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed on Stop")
	}

	// Publishing after Stop is a no-op, not a panic.
	b.SendValidationUpdate(report("late"))
	if b.subscribe() != nil {
		t.Fatal("subscribe after Stop must return nil")
	}
}
