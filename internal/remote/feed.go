package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"hubsync/internal/hub"
)

const (
	defaultHeartbeat = 30 * time.Second
	eventBuffer      = 64
)

// FeedOptions configures a Feed.
type FeedOptions struct {
	URL       string
	APIKey    string
	Token     func(ctx context.Context) (string, error)
	Heartbeat time.Duration
	Logger    hub.Logger
}

// Feed subscribes to row changes over the realtime websocket. Each
// subscription owns its own connection; when the connection drops the
// subscription's event channel is closed and the caller resubscribes.
type Feed struct {
	opts FeedOptions
}

var _ hub.ChangeFeed = (*Feed)(nil)

func NewFeed(opts FeedOptions) *Feed {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.Logger == nil {
		opts.Logger = hub.NewNopLogger()
	}
	return &Feed{opts: opts}
}

// frame is one realtime protocol message.
type frame struct {
	Type      string     `json:"type"` // subscribe, change, heartbeat, error
	Topic     string     `json:"topic,omitempty"`
	Tables    []string   `json:"tables,omitempty"`
	SectionID string     `json:"section_id,omitempty"`
	Table     string     `json:"table,omitempty"`
	Op        string     `json:"op,omitempty"`
	ID        string     `json:"id,omitempty"`
	At        *time.Time `json:"at,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func (f *Feed) Subscribe(ctx context.Context, filter hub.ChangeFilter) (hub.Subscription, error) {
	u, err := url.Parse(f.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url %q: %w", f.opts.URL, err)
	}
	q := u.Query()
	q.Set("apikey", f.opts.APIKey)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if f.opts.Token != nil {
		token, err := f.opts.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving access token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &hub.TransientError{Op: "realtime dial", Err: err}
	}

	topic := "hub"
	if filter.SectionID != "" {
		topic += ":" + filter.SectionID
	}
	hello := frame{Type: "subscribe", Topic: topic, Tables: filter.Tables, SectionID: filter.SectionID}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, &hub.TransientError{Op: "realtime subscribe", Err: err}
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		conn:   conn,
		filter: filter,
		events: make(chan hub.ChangeEvent, eventBuffer),
		cancel: cancel,
		logger: f.opts.Logger,
	}
	sub.wg.Add(2)
	go sub.read(subCtx)
	go sub.heartbeat(subCtx, f.opts.Heartbeat)

	// The caller's context bounds the subscription's lifetime.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-subCtx.Done():
		}
	}()
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	filter hub.ChangeFilter
	events chan hub.ChangeEvent
	cancel context.CancelFunc
	logger hub.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan hub.ChangeEvent { return s.events }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "")
		s.wg.Wait()
	})
	return nil
}

func (s *subscription) read(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer s.cancel()

	for {
		var msg frame
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.logger.Warn("realtime connection lost", "error", err)
			}
			return
		}

		switch msg.Type {
		case "change":
			ev := hub.ChangeEvent{Table: msg.Table, Op: msg.Op, ID: msg.ID, SectionID: msg.SectionID}
			if msg.At != nil {
				ev.At = *msg.At
			}
			if !s.filter.Matches(ev) {
				continue
			}
			select {
			case s.events <- ev:
			default:
				s.logger.Debug("realtime event dropped", "table", ev.Table, "id", ev.ID)
			}
		case "error":
			s.logger.Warn("realtime error frame", "message", msg.Message)
		case "heartbeat":
		}
	}
}

func (s *subscription) heartbeat(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, s.conn, frame{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}
