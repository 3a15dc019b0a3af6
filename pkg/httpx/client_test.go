// Copyright 2025-2026 Roberto Szek

package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T) (*Client, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	c := NewClient(zerolog.Nop())
	c.now = func() time.Time { return time.Unix(1000, 0) }
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestDoSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("max_results"); got != "100" {
			t.Errorf("query max_results = %q, want %q", got, "100")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL,
		url.Values{"max_results": {"100"}}, nil, http.Header{"Authorization": {"Bearer tok"}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestDoRetriesAfter429(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("x-rate-limit-remaining", "0")
			w.Header().Set("x-rate-limit-limit", "900")
			w.Header().Set("x-rate-limit-reset", "1010") // 10s past the fake clock
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c, slept := newTestClient(t)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
	want := 10*time.Second + resetSafetyMargin
	if len(*slept) != 1 || (*slept)[0] != want {
		t.Errorf("slept %v, want one sleep of %v", *slept, want)
	}
}

func TestDoRetriesEvery429(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 4 {
			w.Header().Set("x-rate-limit-remaining", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c, slept := newTestClient(t)
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("server saw %d calls, want 4", got)
	}
	// Quota not exhausted: only the safety margin is slept per 429.
	for i, d := range *slept {
		if d != resetSafetyMargin {
			t.Errorf("sleep %d = %v, want %v", i, d, resetSafetyMargin)
		}
	}
}

func TestDoSurfacesStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Do err = %v, want StatusError", err)
	}
	if se.Code != http.StatusForbidden {
		t.Errorf("Code = %d, want 403", se.Code)
	}
	if se.URL != srv.URL {
		t.Errorf("URL = %q, want %q", se.URL, srv.URL)
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Error("IsStatus(403) = false, want true")
	}
	if IsStatus(err, http.StatusNotFound) {
		t.Error("IsStatus(404) = true, want false")
	}
}

func TestDoResendsBodyOnRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	if _, err := c.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte(`{"a":1}`), nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[0] != `{"a":1}` {
		t.Errorf("bodies = %q, want the same payload twice", bodies)
	}
}
