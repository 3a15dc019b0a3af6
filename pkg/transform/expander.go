// Copyright 2025-2026 Roberto Szek

package transform

import (
	"context"
	"net"
	"net/http"
	"time"
)

// expander resolves shortened URLs by following redirects with a HEAD
// request. It keeps its own short timeouts so a dead shortener cannot stall
// the pipeline.
type expander struct {
	hc *http.Client
}

func newExpander() *expander {
	return &expander{
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 7 * time.Second}).DialContext,
			},
			Timeout: 10 * time.Second,
		},
	}
}

// expand returns the final URL after redirects, or ok=false on any failure.
func (e *expander) expand(ctx context.Context, shortURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return "", false
	}
	resp.Body.Close()
	if resp.Request == nil || resp.Request.URL == nil {
		return "", false
	}
	return resp.Request.URL.String(), true
}
