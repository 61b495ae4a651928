package hub_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hubsync/internal/hub"
)

type fakeSub struct {
	events chan hub.ChangeEvent
	closed atomic.Bool
}

func (s *fakeSub) Events() <-chan hub.ChangeEvent { return s.events }
func (s *fakeSub) Close() error                   { s.closed.Store(true); return nil }

// fakeFeed hands out unbuffered subscriptions; failures are consumed first.
type fakeFeed struct {
	mu       sync.Mutex
	subs     []*fakeSub
	failures int
}

func (f *fakeFeed) Subscribe(ctx context.Context, filter hub.ChangeFilter) (hub.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection refused")
	}
	s := &fakeSub{events: make(chan hub.ChangeEvent)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// quiet disables the poll timer so only feed events and visibility trigger refreshes.
var quiet = hub.RefreshOptions{Period: time.Hour, InitialDelay: time.Hour, ResubscribeDelay: 5 * time.Millisecond}

func countingRefresh() (hub.RefreshFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) error { n.Add(1); return nil }, &n
}

func TestRefreshScheduler_ChangeEventRefreshes(t *testing.T) {
	feed := &fakeFeed{}
	sched := hub.NewRefreshScheduler(feed, quiet)
	defer sched.Close()

	fn, n := countingRefresh()
	if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops", Tables: []string{hub.TableResources}}, fn); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	feed.last().events <- hub.ChangeEvent{Table: hub.TableResources, SectionID: "ops"}
	waitFor(t, "refresh", func() bool { return n.Load() == 1 })
}

func TestRefreshScheduler_Visibility(t *testing.T) {
	feed := &fakeFeed{}
	sched := hub.NewRefreshScheduler(feed, quiet)
	defer sched.Close()

	fn, n := countingRefresh()
	if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops"}, fn); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sched.SetVisible(false)
	feed.last().events <- hub.ChangeEvent{Table: hub.TableResources}
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 0 {
		t.Fatalf("refreshes while hidden = %d, want 0", got)
	}

	sched.SetVisible(true)
	waitFor(t, "refresh on visible", func() bool { return n.Load() >= 1 })
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("refreshes after becoming visible = %d, want exactly 1", got)
	}

	// Staying visible does not queue anything.
	sched.SetVisible(true)
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("refreshes after redundant SetVisible = %d, want 1", got)
	}
}

func TestRefreshScheduler_CoalescesBursts(t *testing.T) {
	feed := &fakeFeed{}
	sched := hub.NewRefreshScheduler(feed, quiet)
	defer sched.Close()

	gate := make(chan struct{})
	var n, running, overlap atomic.Int32
	fn := func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlap.Store(1)
		}
		defer running.Add(-1)
		n.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}
	if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops"}, fn); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sub := feed.last()
	sub.events <- hub.ChangeEvent{Table: hub.TableResources}
	waitFor(t, "first refresh", func() bool { return n.Load() == 1 })
	for i := 0; i < 5; i++ {
		sub.events <- hub.ChangeEvent{Table: hub.TableResources}
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)

	waitFor(t, "pending refresh", func() bool { return n.Load() == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 2 {
		t.Errorf("refreshes = %d, want 2 for a burst during one refresh", got)
	}
	if overlap.Load() != 0 {
		t.Error("refreshes of one view overlapped")
	}
}

func TestRefreshScheduler_PollsWithoutFeed(t *testing.T) {
	sched := hub.NewRefreshScheduler(nil, hub.RefreshOptions{Period: 5 * time.Millisecond, InitialDelay: time.Millisecond})
	defer sched.Close()

	fn, n := countingRefresh()
	if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops"}, fn); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	waitFor(t, "two polls", func() bool { return n.Load() >= 2 })
}

func TestRefreshScheduler_Resubscribes(t *testing.T) {
	t.Run("after a failed subscribe", func(t *testing.T) {
		feed := &fakeFeed{failures: 1}
		sched := hub.NewRefreshScheduler(feed, quiet)
		defer sched.Close()

		fn, n := countingRefresh()
		if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops"}, fn); err != nil {
			t.Fatalf("Open() error = %v, want polling fallback", err)
		}
		waitFor(t, "subscription", func() bool { return feed.count() == 1 })
		waitFor(t, "catch-up refresh", func() bool { return n.Load() == 1 })
	})

	t.Run("after the feed drops", func(t *testing.T) {
		feed := &fakeFeed{}
		sched := hub.NewRefreshScheduler(feed, quiet)
		defer sched.Close()

		fn, n := countingRefresh()
		if err := sched.Open(context.Background(), hub.ViewScope{ID: "ops"}, fn); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		first := feed.last()
		close(first.events)

		waitFor(t, "resubscribe", func() bool { return feed.count() == 2 })
		waitFor(t, "catch-up refresh", func() bool { return n.Load() == 1 })
		if !first.closed.Load() {
			t.Error("dropped subscription was not closed")
		}
	})
}

func TestRefreshScheduler_OpenClose(t *testing.T) {
	feed := &fakeFeed{}
	sched := hub.NewRefreshScheduler(feed, quiet)

	fn, _ := countingRefresh()
	ctx := context.Background()
	if err := sched.Open(ctx, hub.ViewScope{ID: "ops"}, fn); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first := feed.last()
	if err := sched.Open(ctx, hub.ViewScope{ID: "ops"}, fn); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if !first.closed.Load() {
		t.Error("reopening a scope did not tear down the previous watch")
	}
	if err := sched.Open(ctx, hub.ViewScope{ID: "dev"}, fn); err != nil {
		t.Fatalf("Open(dev) error = %v", err)
	}

	sched.CloseScope("ops")
	if sched.IsOpen("ops") || !sched.IsOpen("dev") {
		t.Errorf("IsOpen(ops) = %v, IsOpen(dev) = %v, want false, true", sched.IsOpen("ops"), sched.IsOpen("dev"))
	}

	sched.Close()
	if sched.IsOpen("dev") {
		t.Error("Close() left a watch open")
	}
	if !feed.last().closed.Load() {
		t.Error("Close() did not close the subscription")
	}
}
