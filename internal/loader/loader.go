// Package loader performs backend requests with a bounded retry budget and
// exponential backoff between attempts.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/cenkalti/backoff/v5"

	appLog "timetable/internal/log"
)

// Policy is the retry budget of a Fetch call.
type Policy struct {
	// Retries after the first attempt; 3 retries means 4 attempts total.
	Retries        int
	InitialBackoff time.Duration
	Multiplier     float64
}

// DefaultPolicy is 4 attempts waiting 1s, 1.5s and 2.25s in between.
func DefaultPolicy() Policy {
	return Policy{
		Retries:        3,
		InitialBackoff: time.Second,
		Multiplier:     1.5,
	}
}

// newBackOff returns a jitter-free exponential schedule; the waits are part
// of the observable contract and must be exact.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         time.Hour,
	}
	b.Reset()
	return b
}

// Delays lists the waits inserted between attempts, in order.
func (p Policy) Delays() []time.Duration {
	b := p.newBackOff()
	out := make([]time.Duration, 0, p.Retries)
	for i := 0; i < p.Retries; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Request describes one backend call relative to the loader's base URL.
type Request struct {
	Method      string
	Path        string
	ContentType string
	Body        []byte
}

// Loader issues requests against one backend base URL.
type Loader struct {
	baseURL string
	client  *http.Client
	policy  Policy
	clock   clock.Clock
}

type Option func(*Loader)

func WithPolicy(p Policy) Option {
	return func(l *Loader) { l.policy = p }
}

// WithClock replaces the wall clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// New creates a Loader for baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Loader {
	l := &Loader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		policy:  DefaultPolicy(),
		clock:   clock.NewClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) BaseURL() string {
	return l.baseURL
}

// Response is a successful (2xx) reply with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Send performs exactly one attempt. A non-2xx reply is returned as
// *StatusError.
func (l *Loader) Send(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, l.baseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Detail: detailFromBody(data, resp.Status),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Fetch performs req, retrying transport failures and non-2xx replies with
// exponential backoff. Attempts are strictly sequential. When the budget is
// exhausted a *ConnectivityError carrying the last failure is returned.
func (l *Loader) Fetch(ctx context.Context, req Request) (*Response, error) {
	b := l.policy.newBackOff()
	attempts := l.policy.Retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := l.Send(ctx, req)
		if err == nil {
			if attempt > 1 {
				appLog.Info("loader request recovered", "path", req.Path, "attempt", attempt)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		wait := b.NextBackOff()
		appLog.Warn("loader request failed; retrying",
			"path", req.Path,
			"attempt", attempt,
			"backoff", wait,
			"err", err,
		)
		if err := l.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	appLog.Error("loader retry budget exhausted", lastErr, "path", req.Path, "attempts", attempts)
	return nil, &ConnectivityError{Path: req.Path, Attempts: attempts, Err: lastErr}
}

func (l *Loader) sleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.NewTimer(d)
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

// FetchJSON fetches req with retries, decodes the body once and hands the
// decoded value to every subscriber in order. Subscribers share the single
// response; none of them triggers another request.
func FetchJSON[T any](ctx context.Context, l *Loader, req Request, subscribers ...func(T)) (T, error) {
	var out T
	resp, err := l.Fetch(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", req.Path, err)
	}
	for _, sub := range subscribers {
		sub(out)
	}
	return out, nil
}

// detailFromBody extracts the server-provided {"detail": "..."} message,
// falling back to the raw body or the status line.
func detailFromBody(body []byte, status string) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var s string
		if len(payload.Detail) > 0 {
			if json.Unmarshal(payload.Detail, &s) == nil && s != "" {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return text
	}
	return status
}

// IsStatus reports whether err carries a backend reply with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
