package hub

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc re-reads whatever a view displays.
type RefreshFunc func(ctx context.Context) error

// ViewScope identifies an open view. ID doubles as the row filter for the
// realtime subscription; an empty ID watches the tables unfiltered.
type ViewScope struct {
	ID     string
	Tables []string
}

// RefreshOptions tunes a RefreshScheduler. Zero values select defaults.
type RefreshOptions struct {
	Period           time.Duration // fallback poll period, default 60s
	InitialDelay     time.Duration // delay of the first poll, default 2s
	ResubscribeDelay time.Duration // wait before re-subscribing after the feed drops, default 5s
	Logger           Logger
}

// RefreshScheduler keeps open views fresh from two sources: the store's
// realtime change feed and a fallback poll timer. Both feed a coalescing
// single-slot queue per view, drained by one consumer goroutine, so a view
// never runs two refreshes at once. Nothing is refreshed while hidden.
type RefreshScheduler struct {
	feed    ChangeFeed
	opts    RefreshOptions
	logger  Logger
	mu      sync.Mutex
	visible bool
	watches map[string]*viewWatch
}

// NewRefreshScheduler creates a scheduler. feed may be nil for poll-only use.
func NewRefreshScheduler(feed ChangeFeed, opts RefreshOptions) *RefreshScheduler {
	if opts.Period <= 0 {
		opts.Period = 60 * time.Second
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 2 * time.Second
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = 5 * time.Second
	}
	return &RefreshScheduler{
		feed:    feed,
		opts:    opts,
		logger:  orNop(opts.Logger),
		visible: true,
		watches: make(map[string]*viewWatch),
	}
}

// Open starts watching scope, first tearing down any watch already open for
// it. The watch ends on CloseScope, Close, or cancellation of ctx.
// A failed subscription is not fatal: the view falls back to polling and
// subscribing is retried.
func (s *RefreshScheduler) Open(ctx context.Context, scope ViewScope, fn RefreshFunc) error {
	s.CloseScope(scope.ID)

	wctx, cancel := context.WithCancel(ctx)
	w := &viewWatch{
		sched:   s,
		scope:   scope,
		fn:      fn,
		trigger: make(chan string, 1),
		cancel:  cancel,
	}

	var sub Subscription
	if s.feed != nil {
		var err error
		sub, err = s.feed.Subscribe(wctx, w.filter())
		if err != nil {
			s.logger.Warn("realtime subscription failed, polling only", "scope", scope.ID, "error", err)
		}
	}

	s.mu.Lock()
	if prev := s.watches[scope.ID]; prev != nil {
		// Lost a race with a concurrent Open of the same scope.
		s.mu.Unlock()
		prev.stop()
		s.mu.Lock()
	}
	s.watches[scope.ID] = w
	s.mu.Unlock()

	w.wg.Add(2)
	go w.consume(wctx)
	go w.poll(wctx)
	if s.feed != nil {
		w.wg.Add(1)
		go w.listen(wctx, sub)
	}

	s.logger.Debug("view opened", "scope", scope.ID)
	return nil
}

// CloseScope tears down the watch for a scope, if any. It must not be
// called from inside a RefreshFunc.
func (s *RefreshScheduler) CloseScope(id string) {
	s.mu.Lock()
	w := s.watches[id]
	delete(s.watches, id)
	s.mu.Unlock()

	if w != nil {
		w.stop()
		s.logger.Debug("view closed", "scope", id)
	}
}

// Close tears down every open watch.
func (s *RefreshScheduler) Close() {
	s.mu.Lock()
	ws := s.watches
	s.watches = make(map[string]*viewWatch)
	s.mu.Unlock()

	for _, w := range ws {
		w.stop()
	}
}

// SetVisible records whether views are on screen. Becoming visible again
// queues one immediate refresh per open view.
func (s *RefreshScheduler) SetVisible(visible bool) {
	s.mu.Lock()
	regained := visible && !s.visible
	s.visible = visible
	var ws []*viewWatch
	if regained {
		for _, w := range s.watches {
			ws = append(ws, w)
		}
	}
	s.mu.Unlock()

	for _, w := range ws {
		w.enqueue("visible")
	}
}

// Visible reports the current visibility.
func (s *RefreshScheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// IsOpen reports whether a watch exists for the scope.
func (s *RefreshScheduler) IsOpen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches[id] != nil
}

type viewWatch struct {
	sched   *RefreshScheduler
	scope   ViewScope
	fn      RefreshFunc
	trigger chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (w *viewWatch) filter() ChangeFilter {
	return ChangeFilter{Tables: w.scope.Tables, SectionID: w.scope.ID}
}

func (w *viewWatch) stop() {
	w.cancel()
	w.wg.Wait()
}

// enqueue drops triggers while hidden and coalesces bursts into one pending refresh.
func (w *viewWatch) enqueue(reason string) {
	if !w.sched.Visible() {
		return
	}
	select {
	case w.trigger <- reason:
	default:
	}
}

func (w *viewWatch) consume(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-w.trigger:
			if !w.sched.Visible() {
				continue
			}
			if err := w.fn(ctx); err != nil {
				w.sched.logger.Warn("refresh failed", "scope", w.scope.ID, "reason", reason, "error", err)
				continue
			}
			w.sched.logger.Debug("view refreshed", "scope", w.scope.ID, "reason", reason)
		}
	}
}

func (w *viewWatch) poll(ctx context.Context) {
	defer w.wg.Done()
	timer := time.NewTimer(w.sched.opts.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.enqueue("poll")
			timer.Reset(w.sched.opts.Period)
		}
	}
}

func (w *viewWatch) listen(ctx context.Context, sub Subscription) {
	defer w.wg.Done()
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	for {
		if sub == nil {
			if err := sleepContext(ctx, w.sched.opts.ResubscribeDelay); err != nil {
				return
			}
			var err error
			sub, err = w.sched.feed.Subscribe(ctx, w.filter())
			if err != nil {
				w.sched.logger.Warn("realtime resubscribe failed", "scope", w.scope.ID, "error", err)
				sub = nil
				continue
			}
			// Catch up on anything missed while disconnected.
			w.enqueue("resubscribed")
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				w.sched.logger.Warn("realtime feed closed, relying on poll", "scope", w.scope.ID)
				sub.Close()
				sub = nil
				continue
			}
			w.enqueue("change:" + ev.Table)
		}
	}
}
