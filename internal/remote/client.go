// Package remote implements hub.Store against a PostgREST-style HTTP API with
// a websocket change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

const (
	restPrefix = "/rest/v1/"
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Token returns the bearer token for a request. When nil the API key is
	// sent as the bearer token.
	Token func(ctx context.Context) (string, error)
	// HTTP defaults to a client with Timeout.
	HTTP    *http.Client
	Timeout time.Duration
	// RealtimeURL overrides the websocket endpoint derived from BaseURL.
	RealtimeURL string
	Clock       hub.Clock
	Logger      hub.Logger
}

// Client is a hub.Store backed by the remote REST API.
type Client struct {
	base   *url.URL
	apiKey string
	token  func(ctx context.Context) (string, error)
	http   *http.Client
	clock  hub.Clock
	logger hub.Logger
	feed   *Feed
}

var _ hub.Store = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid store url %q", opts.BaseURL)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key required for remote store")
	}

	httpClient := opts.HTTP
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	clock := opts.Clock
	if clock == nil {
		clock = hub.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = hub.NewNopLogger()
	}

	c := &Client{
		base:   base,
		apiKey: opts.APIKey,
		token:  opts.Token,
		http:   httpClient,
		clock:  clock,
		logger: logger,
	}

	realtime := opts.RealtimeURL
	if realtime == "" {
		realtime = realtimeURL(base)
	}
	c.feed = NewFeed(FeedOptions{
		URL:    realtime,
		APIKey: opts.APIKey,
		Token:  c.bearer,
		Logger: logger,
	})
	return c, nil
}

func realtimeURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	return u.String()
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.token == nil {
		return c.apiKey, nil
	}
	return c.token(ctx)
}

// request describes one REST call.
type request struct {
	method string
	path   string // relative to /rest/v1/
	query  url.Values
	body   any
	prefer []string
}

// do performs req and decodes a successful response into out (when non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	op := req.method + " " + req.path

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + restPrefix + req.path
	u.RawQuery = req.query.Encode()

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%w: encoding %s body: %v", hub.ErrValidation, op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("building %s: %w", op, err)
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return fmt.Errorf("resolving access token: %w", err)
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(req.prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(req.prefer, ","))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &hub.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &hub.TransientError{Op: op, Err: err}
	}

	if resp.StatusCode >= 400 {
		storeErr := decodeStoreError(resp.StatusCode, data)
		if storeErr.Transient() {
			return &hub.TransientError{Op: op, Err: storeErr}
		}
		return fmt.Errorf("%s: %w", op, storeErr)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// decodeStoreError reads a PostgREST error body, falling back to the raw text.
func decodeStoreError(status int, body []byte) *hub.StoreError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	se := &hub.StoreError{Status: status}
	if json.Unmarshal(body, &payload) == nil && (payload.Message != "" || payload.Code != "") {
		se.Code = payload.Code
		se.Message = payload.Message
		if payload.Details != "" {
			se.Message += ": " + payload.Details
		}
		return se
	}
	se.Message = strings.TrimSpace(string(body))
	if se.Message == "" {
		se.Message = http.StatusText(status)
	}
	return se
}

func eq(v string) string { return "eq." + v }

func pageQuery(q url.Values, order string, page hub.Page) url.Values {
	q.Set("order", order)
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Offset > 0 {
		q.Set("offset", strconv.Itoa(page.Offset))
	}
	return q
}

func upsert(table, conflict string, body any) request {
	return request{
		method: http.MethodPost,
		path:   table,
		query:  url.Values{"on_conflict": {conflict}},
		body:   body,
		prefer: []string{"resolution=merge-duplicates", "return=representation"},
	}
}

// first returns the first element of rows, or nil.
func first[T any](rows []*T) *T {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// getOne fetches at most one row matching column=value. A 404 reads as absent.
func getOne[T any](ctx context.Context, c *Client, table, column, value string) (*T, error) {
	var rows []*T
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   table,
		query:  url.Values{column: {eq(value)}, "limit": {"1"}},
	}, &rows)
	if errors.Is(err, hub.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return first(rows), nil
}

// deleteOne deletes rows matching column=value, reporting ErrNotFound when
// nothing matched.
func (c *Client) deleteOne(ctx context.Context, table, column, value string) error {
	var rows []json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   table,
		query:  url.Values{column: {eq(value)}},
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", table, value, hub.ErrNotFound)
	}
	return nil
}

func (c *Client) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return c.clock.Now().UTC()
	}
	return t
}

// Subscribe opens a realtime subscription.
func (c *Client) Subscribe(ctx context.Context, filter hub.ChangeFilter) (hub.Subscription, error) {
	return c.feed.Subscribe(ctx, filter)
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ExportAll calls the privileged export function. A missing function reads
// as ErrUnsupported so callers fall back to per-table reads.
func (c *Client) ExportAll(ctx context.Context) (*model.ExportBundle, error) {
	var bundle model.ExportBundle
	err := c.do(ctx, request{method: http.MethodPost, path: "rpc/export_all_data", body: struct{}{}}, &bundle)
	if errors.Is(err, hub.ErrNotFound) {
		return nil, fmt.Errorf("export_all_data: %w", hub.ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}
