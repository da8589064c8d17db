package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"
)

type fetchResult struct {
	resp *Response
	err  error
}

// flakyServer fails the first n requests with 503 and then serves body.
func flakyServer(t *testing.T, failures int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"warming up"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestPolicyDelays(t *testing.T) {
	want := []time.Duration{1000 * time.Millisecond, 1500 * time.Millisecond, 2250 * time.Millisecond}
	if diff := cmp.Diff(want, DefaultPolicy().Delays()); diff != "" {
		t.Errorf("Delays() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchRetriesWithBackoff(t *testing.T) {
	srv, hits := flakyServer(t, 2, `{"ok":true}`)
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	fc := fakeclock.NewFakeClock(start)
	l := New(srv.URL, WithClock(fc))

	done := make(chan fetchResult, 1)
	go func() {
		resp, err := l.Fetch(context.Background(), Request{Path: "/bootstrap"})
		done <- fetchResult{resp, err}
	}()

	// First wait is 1000ms: nothing happens a millisecond early.
	fc.WaitForWatcherAndIncrement(999 * time.Millisecond)
	if got := hits.Load(); got != 1 {
		t.Fatalf("attempts before first backoff elapsed = %d, want 1", got)
	}
	fc.Increment(time.Millisecond)

	// Second wait is 1500ms.
	fc.WaitForWatcherAndIncrement(1499 * time.Millisecond)
	if got := hits.Load(); got != 2 {
		t.Fatalf("attempts before second backoff elapsed = %d, want 2", got)
	}
	fc.Increment(time.Millisecond)

	res := <-done
	if res.err != nil {
		t.Fatalf("Fetch() error = %v", res.err)
	}
	if string(res.resp.Body) != `{"ok":true}` {
		t.Errorf("body = %q", res.resp.Body)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if waited := fc.Since(start); waited != 2500*time.Millisecond {
		t.Errorf("total backoff = %v, want 2.5s", waited)
	}
}

func TestFetchExhaustsBudget(t *testing.T) {
	srv, hits := flakyServer(t, 100, "")
	fc := fakeclock.NewFakeClock(time.Now())
	l := New(srv.URL, WithClock(fc))

	done := make(chan fetchResult, 1)
	go func() {
		resp, err := l.Fetch(context.Background(), Request{Path: "/bootstrap"})
		done <- fetchResult{resp, err}
	}()

	for _, d := range DefaultPolicy().Delays() {
		fc.WaitForWatcherAndIncrement(d)
	}

	res := <-done
	var connErr *ConnectivityError
	if !errors.As(res.err, &connErr) {
		t.Fatalf("Fetch() error = %v, want *ConnectivityError", res.err)
	}
	if connErr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", connErr.Attempts)
	}
	if got := hits.Load(); got != 4 {
		t.Errorf("server hits = %d, want 4", got)
	}

	var statusErr *StatusError
	if !errors.As(res.err, &statusErr) {
		t.Fatalf("last failure not preserved: %v", res.err)
	}
	if statusErr.Code != http.StatusServiceUnavailable || statusErr.Detail != "warming up" {
		t.Errorf("last failure = %+v", statusErr)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l := New(url, WithPolicy(Policy{Retries: 0, InitialBackoff: time.Second, Multiplier: 1.5}))
	_, err := l.Fetch(context.Background(), Request{Path: "/bootstrap"})

	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("Fetch() error = %v, want *ConnectivityError", err)
	}
	if connErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", connErr.Attempts)
	}
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	srv, _ := flakyServer(t, 100, "")
	fc := fakeclock.NewFakeClock(time.Now())
	l := New(srv.URL, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan fetchResult, 1)
	go func() {
		resp, err := l.Fetch(ctx, Request{Path: "/bootstrap"})
		done <- fetchResult{resp, err}
	}()

	for fc.WatcherCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	res := <-done
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", res.err)
	}
}

func TestFetchJSONPublishesOnce(t *testing.T) {
	srv, hits := flakyServer(t, 0, `{"views":7}`)
	l := New(srv.URL)

	type payload struct {
		Views int `json:"views"`
	}
	var first, second int
	got, err := FetchJSON(context.Background(), l, Request{Path: "/bootstrap"},
		func(p payload) { first = p.Views },
		func(p payload) { second = p.Views },
	)
	if err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if got.Views != 7 || first != 7 || second != 7 {
		t.Errorf("got=%d first=%d second=%d, want 7 everywhere", got.Views, first, second)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want a single shared request", hits.Load())
	}
}

func TestSendDoesNotRetry(t *testing.T) {
	srv, hits := flakyServer(t, 1, "")
	l := New(srv.URL)

	_, err := l.Send(context.Background(), Request{Method: http.MethodPost, Path: "/sync"})
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("Send() error = %v, want 503 status error", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestDetailFromBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "detail string", body: `{"detail":"Roll number 23K-9 not found in the official records."}`, want: "Roll number 23K-9 not found in the official records."},
		{name: "detail object", body: `{"detail":[{"msg":"field required"}]}`, want: `[{"msg":"field required"}]`},
		{name: "error field", body: `{"error":"Missing credentials.json"}`, want: "Missing credentials.json"},
		{name: "plain text", body: "upstream timeout\n", want: "upstream timeout"},
		{name: "empty", body: "", want: "502 Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detailFromBody([]byte(tt.body), "502 Bad Gateway"); got != tt.want {
				t.Errorf("detailFromBody() = %q, want %q", got, tt.want)
			}
		})
	}
}
