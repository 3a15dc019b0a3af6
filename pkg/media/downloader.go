// Copyright 2025-2026 Roberto Szek

package media

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"

	"github.com/robertoszek/fedimirror/pkg/httpx"
)

// Downloader materializes media refs into a per-post directory.
type Downloader struct {
	http        *httpx.Client
	sizeCeiling int64
	log         zerolog.Logger
}

// NewDownloader creates a downloader. sizeCeiling caps the byte size of any
// single downloaded file; 0 disables the cap.
func NewDownloader(client *httpx.Client, sizeCeiling int64, log zerolog.Logger) *Downloader {
	return &Downloader{
		http:        client,
		sizeCeiling: sizeCeiling,
		log:         log.With().Str("component", "media").Logger(),
	}
}

// filename derives a deterministic, collision-free name within a post's
// folder from the ref's position and content key.
func filename(index int, ref Ref, contentType string) string {
	ext := exmime.ExtensionFromMimetype(contentType)
	if ext == "" {
		ext = filepath.Ext(ref.URL)
	}
	return fmt.Sprintf("%d-%s%s", index, ref.Key, ext)
}

// Download fetches each ref into dir and returns the refs that made it to
// disk, with LocalPath filled in. A 403 or 404 on a single item is logged and
// that item skipped; any other HTTP failure is fatal for the whole post.
// Files exceeding the size ceiling are deleted and the rest of the post
// proceeds without them.
func (d *Downloader) Download(ctx context.Context, refs []Ref, dir string) ([]Ref, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	var files []Ref
	for i, ref := range refs {
		resp, err := d.http.Do(ctx, http.MethodGet, ref.URL, nil, nil, nil)
		if err != nil {
			if httpx.IsStatus(err, http.StatusNotFound) || httpx.IsStatus(err, http.StatusForbidden) {
				d.log.Warn().Err(err).Str("url", ref.URL).Msg("Media gone or forbidden, skipping")
				continue
			}
			return nil, fmt.Errorf("media download failed: %w", err)
		}

		path := filepath.Join(dir, filename(i, ref, resp.Header.Get("Content-Type")))
		if err := os.WriteFile(path, resp.Body, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write media file: %w", err)
		}

		if d.sizeCeiling > 0 && int64(len(resp.Body)) > d.sizeCeiling {
			d.log.Warn().
				Str("path", path).
				Int("size", len(resp.Body)).
				Int64("ceiling", d.sizeCeiling).
				Msg("Media exceeds size ceiling, dropping")
			os.Remove(path)
			continue
		}

		ref.LocalPath = path
		files = append(files, ref)
	}
	return files, nil
}
