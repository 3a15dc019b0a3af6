// Copyright 2025-2026 Roberto Szek

package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/config"
)

// fakeSource serves a minimal Twitter-shaped v2 API.
func fakeSource(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2/users/by/username/alice":
			fmt.Fprint(w, `{"data":{"id":"u1","username":"alice","name":"Alice","description":"hi","pinned_tweet_id":""}}`)
		case r.URL.Path == "/2/users/u1/tweets":
			fmt.Fprint(w, `{"data":[
				{"id":"2","text":"second","author_id":"u1","created_at":"2023-01-02T00:00:00Z"},
				{"id":"1","text":"first","author_id":"u1","created_at":"2023-01-01T00:00:00Z"},
				{"id":"3","text":"RT @bob: x","author_id":"u1","created_at":"2023-01-03T00:00:00Z",
				 "referenced_tweets":[{"type":"retweeted","id":"1"}]}],
				"includes":{"users":[{"id":"u1","username":"alice"}],
				            "tweets":[{"id":"1","text":"first","author_id":"u1","created_at":"2023-01-01T00:00:00Z"}]},
				"meta":{"result_count":3}}`)
		default:
			t.Errorf("unexpected source request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeBackend serves a minimal Mastodon-shaped API, recording status creates
// and reblogs.
type fakeBackend struct {
	mu       sync.Mutex
	statuses []string
	reblogs  []string
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case r.URL.Path == "/api/v1/instance":
			fmt.Fprint(w, `{"version":"2.7.2 (compatible; Pleroma 2.6.0)","max_toot_chars":5000}`)
		case r.URL.Path == "/api/v1/accounts/verify_credentials":
			fmt.Fprint(w, `{"id":"me","username":"mirror"}`)
		case strings.HasPrefix(r.URL.Path, "/api/v1/accounts/me/statuses"):
			fmt.Fprint(w, `[]`)
		case r.URL.Path == "/api/v1/statuses" && r.Method == http.MethodPost:
			var params struct {
				Status string `json:"status"`
			}
			json.NewDecoder(r.Body).Decode(&params)
			b.statuses = append(b.statuses, params.Status)
			fmt.Fprintf(w, `{"id":"T%d"}`, len(b.statuses))
		case strings.HasSuffix(r.URL.Path, "/reblog"):
			parts := strings.Split(r.URL.Path, "/")
			b.reblogs = append(b.reblogs, parts[len(parts)-2])
			fmt.Fprint(w, `{"id":"R1"}`)
		case strings.HasPrefix(r.URL.Path, "/api/v1/statuses/"):
			fmt.Fprint(w, `{"id":"whatever"}`)
		default:
			t.Errorf("unexpected backend request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func TestRunMirrorsAccountOldestFirst(t *testing.T) {
	source := fakeSource(t)
	backend := newFakeBackend(t)
	stateDir := t.TempDir()

	t.Setenv("SOURCE_BEARER_TOKEN", "src")
	t.Setenv("TARGET_ACCESS_TOKEN", "tgt")

	cfg := &config.Config{
		SourceBaseURL: source.URL,
		StateDir:      stateDir,
		Accounts: []config.Account{{
			SourceUsername:  "alice",
			TargetBaseURL:   backend.srv.URL,
			IncludeRetweets: true,
		}},
	}
	cfg.PostProcess()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	runner := NewRunner(cfg, false, zerolog.Nop())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.statuses) != 2 {
		t.Fatalf("backend got %d statuses, want 2: %v", len(backend.statuses), backend.statuses)
	}
	// Ascending creation-time order: post 1 before post 2.
	if backend.statuses[0] != "first" || backend.statuses[1] != "second" {
		t.Errorf("statuses = %v, want [first second]", backend.statuses)
	}
	// Post 3 is a retweet of post 1, already mirrored as T1.
	if len(backend.reblogs) != 1 || backend.reblogs[0] != "T1" {
		t.Errorf("reblogs = %v, want [T1]", backend.reblogs)
	}

	// The id map survives on disk.
	data, err := os.ReadFile(filepath.Join(stateDir, "alice", "ids.txt"))
	if err != nil {
		t.Fatalf("read id map: %v", err)
	}
	for _, want := range []string{"1\tT1", "2\tT2", "3\tT1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("id map missing %q:\n%s", want, data)
		}
	}
}

func TestRunDryRunPublishesNothing(t *testing.T) {
	source := fakeSource(t)
	backend := newFakeBackend(t)

	t.Setenv("SOURCE_BEARER_TOKEN", "src")
	t.Setenv("TARGET_ACCESS_TOKEN", "tgt")

	cfg := &config.Config{
		SourceBaseURL: source.URL,
		StateDir:      t.TempDir(),
		Accounts: []config.Account{{
			SourceUsername:  "alice",
			TargetBaseURL:   backend.srv.URL,
			IncludeRetweets: true,
		}},
	}
	cfg.PostProcess()

	runner := NewRunner(cfg, true, zerolog.Nop())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.statuses)+len(backend.reblogs) != 0 {
		t.Errorf("dry run published: statuses=%v reblogs=%v", backend.statuses, backend.reblogs)
	}
}
