package database

import (
	"context"
	"sync"

	"hubsync/internal/hub"
)

const subscriptionBuffer = 64

// changeFeed fans committed changes out to in-process subscribers.
// A slow subscriber loses events rather than blocking writers.
type changeFeed struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subs: make(map[*subscription]struct{})}
}

func (f *changeFeed) subscribe(ctx context.Context, filter hub.ChangeFilter) *subscription {
	sub := &subscription{
		feed:   f,
		filter: filter,
		events: make(chan hub.ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.events)
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

func (f *changeFeed) publish(ev hub.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (f *changeFeed) remove(sub *subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; !ok {
		return false
	}
	delete(f.subs, sub)
	close(sub.events)
	return true
}

func (f *changeFeed) close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*subscription]struct{})
	f.closed = true
	f.mu.Unlock()

	for sub := range subs {
		close(sub.events)
		sub.once.Do(func() { close(sub.done) })
	}
}

type subscription struct {
	feed   *changeFeed
	filter hub.ChangeFilter
	events chan hub.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

var _ hub.Subscription = (*subscription)(nil)

func (s *subscription) Events() <-chan hub.ChangeEvent { return s.events }

func (s *subscription) Close() error {
	s.feed.remove(s)
	s.once.Do(func() { close(s.done) })
	return nil
}
