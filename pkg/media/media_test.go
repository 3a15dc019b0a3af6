// Copyright 2025-2026 Roberto Szek

package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/httpx"
	"github.com/robertoszek/fedimirror/pkg/twitter"
)

func TestBestVariantPicksMaxBitrate(t *testing.T) {
	t.Parallel()
	variants := []twitter.Variant{
		{BitRate: 128000, URL: "http://v/128"},
		{BitRate: 832000, URL: "http://v/832"},
		{BitRate: 320000, URL: "http://v/320"},
	}
	url, ok := bestVariantURL(variants)
	if !ok || url != "http://v/832" {
		t.Errorf("bestVariantURL = %q, %v; want http://v/832, true", url, ok)
	}
}

func TestBestVariantTieLastWins(t *testing.T) {
	t.Parallel()
	variants := []twitter.Variant{
		{BitRate: 500, URL: "http://v/first"},
		{BitRate: 500, URL: "http://v/second"},
	}
	url, _ := bestVariantURL(variants)
	if url != "http://v/second" {
		t.Errorf("bestVariantURL tie = %q, want the last seen", url)
	}
}

func TestBestVariantSkipsMissingBitrate(t *testing.T) {
	t.Parallel()
	variants := []twitter.Variant{
		{URL: "http://v/playlist.m3u8"},
		{BitRate: 100, URL: "http://v/100"},
	}
	url, ok := bestVariantURL(variants)
	if !ok || url != "http://v/100" {
		t.Errorf("bestVariantURL = %q, %v; want http://v/100, true", url, ok)
	}

	if _, ok := bestVariantURL([]twitter.Variant{{URL: "http://v/only-playlist"}}); ok {
		t.Error("bestVariantURL with no bit rates should report not ok")
	}
}

func TestResolveDeduplicatesNestedMedia(t *testing.T) {
	t.Parallel()
	includes := &twitter.Includes{
		Posts: []twitter.Post{{
			ID:          "100",
			Attachments: twitter.Attachments{MediaKeys: []string{"m1", "m2"}},
		}},
		Media: []twitter.Media{
			{Key: "m1", Kind: twitter.MediaPhoto, URL: "http://img/shared.jpg", AltText: "shared"},
			{Key: "m2", Kind: twitter.MediaPhoto, URL: "http://img/other.jpg"},
			// Same URL under a different key on the outer post.
			{Key: "m3", Kind: twitter.MediaPhoto, URL: "http://img/shared.jpg"},
		},
	}
	post := &twitter.Post{
		ID:          "123",
		References:  []twitter.Reference{{Kind: twitter.RefQuote, ID: "100"}},
		Attachments: twitter.Attachments{MediaKeys: []string{"m3"}},
	}

	refs := Resolve(post, includes, zerolog.Nop())
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2 (deduplicated by URL): %+v", len(refs), refs)
	}
	if refs[0].URL != "http://img/shared.jpg" || refs[1].URL != "http://img/other.jpg" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestResolveIgnoresReplyReferences(t *testing.T) {
	t.Parallel()
	includes := &twitter.Includes{
		Posts: []twitter.Post{{
			ID:          "100",
			Attachments: twitter.Attachments{MediaKeys: []string{"m1"}},
		}},
		Media: []twitter.Media{{Key: "m1", Kind: twitter.MediaPhoto, URL: "http://img/1.jpg"}},
	}
	post := &twitter.Post{
		ID:         "123",
		References: []twitter.Reference{{Kind: twitter.RefReply, ID: "100"}},
	}
	if refs := Resolve(post, includes, zerolog.Nop()); len(refs) != 0 {
		t.Errorf("got %d refs, want 0 (replies do not pull media)", len(refs))
	}
}

func TestDownloadSkipsGoneMedia(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/gone"):
			http.Error(w, "gone", http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/forbidden"):
			http.Error(w, "no", http.StatusForbidden)
		default:
			w.Header().Set("Content-Type", "image/png")
			fmt.Fprint(w, "pngdata")
		}
	}))
	defer srv.Close()

	d := NewDownloader(httpx.NewClient(zerolog.Nop()), 0, zerolog.Nop())
	refs := []Ref{
		{Key: "a", Kind: twitter.MediaPhoto, URL: srv.URL + "/gone"},
		{Key: "b", Kind: twitter.MediaPhoto, URL: srv.URL + "/forbidden"},
		{Key: "c", Kind: twitter.MediaPhoto, URL: srv.URL + "/ok"},
	}
	files, err := d.Download(context.Background(), refs, t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(files) != 1 || files[0].Key != "c" {
		t.Fatalf("files = %+v, want only the ok ref", files)
	}
	if got := filepath.Base(files[0].LocalPath); got != "2-c.png" {
		t.Errorf("filename = %q, want 2-c.png", got)
	}
}

func TestDownloadOtherFailureIsFatal(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDownloader(httpx.NewClient(zerolog.Nop()), 0, zerolog.Nop())
	_, err := d.Download(context.Background(), []Ref{{Key: "a", URL: srv.URL}}, t.TempDir())
	if !httpx.IsStatus(err, http.StatusInternalServerError) {
		t.Errorf("Download err = %v, want wrapped 500 StatusError", err)
	}
}

func TestDownloadDropsOversizedFile(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		if strings.HasSuffix(r.URL.Path, "/big") {
			fmt.Fprint(w, strings.Repeat("x", 100))
			return
		}
		fmt.Fprint(w, "small")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(httpx.NewClient(zerolog.Nop()), 50, zerolog.Nop())
	refs := []Ref{
		{Key: "big", URL: srv.URL + "/big"},
		{Key: "small", URL: srv.URL + "/small"},
	}
	files, err := d.Download(context.Background(), refs, dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(files) != 1 || files[0].Key != "small" {
		t.Fatalf("files = %+v, want only the small ref", files)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d files, want 1 (oversized deleted)", len(entries))
	}
}
