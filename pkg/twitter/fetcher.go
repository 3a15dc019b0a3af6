// Copyright 2025-2026 Roberto Szek

package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/httpx"
)

// MaxItems bounds accepted by Timeline.
const (
	MinFetchItems = 10
	MaxFetchItems = 3200

	pageCeiling = 100
)

// ErrNoPosts is returned when the account has no posts in the requested
// window. Callers substitute a synthetic lookback window instead of treating
// this as an empty success.
var ErrNoPosts = errors.New("account has no posts in the requested window")

// ErrMaxItemsRange is wrapped into the validation error Timeline returns
// before any network call when max items is out of bounds.
var ErrMaxItemsRange = errors.New("max items out of range")

var defaultParams = url.Values{
	"tweet.fields": {"id,text,author_id,created_at,entities,referenced_tweets,attachments,possibly_sensitive"},
	"expansions":   {"author_id,referenced_tweets.id,referenced_tweets.id.author_id,attachments.media_keys,attachments.poll_ids"},
	"media.fields": {"media_key,type,url,alt_text,variants"},
	"poll.fields":  {"id,options,duration_minutes"},
	"user.fields":  {"id,username,name,description,pinned_tweet_id,profile_image_url,profile_banner_url"},
}

// Fetcher walks the paginated source API and merges pages into one aggregate
// result.
type Fetcher struct {
	http    *httpx.Client
	baseURL string
	bearer  string
	log     zerolog.Logger
}

// NewFetcher creates a fetcher against baseURL (e.g. https://api.twitter.com)
// authenticating with the given bearer token.
func NewFetcher(client *httpx.Client, baseURL, bearer string, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		http:    client,
		baseURL: baseURL,
		bearer:  bearer,
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

func (f *Fetcher) header() http.Header {
	return http.Header{"Authorization": {"Bearer " + f.bearer}}
}

// page mirrors one raw timeline response.
type page struct {
	Data     []Post   `json:"data"`
	Includes Includes `json:"includes"`
	Meta     struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// roundUpTo10 rounds n up to the nearest multiple of 10.
func roundUpTo10(n int) int {
	if r := n % 10; r != 0 {
		return n + 10 - r
	}
	return n
}

// Timeline fetches up to maxItems posts created after since, merging every
// page's data and includes. It terminates when maxItems is reached, the
// source reports no further cursor, or the cursor repeats (cycle guard).
func (f *Fetcher) Timeline(ctx context.Context, userID string, since time.Time, maxItems int) (*AggregatePage, error) {
	if maxItems < MinFetchItems || maxItems > MaxFetchItems {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrMaxItemsRange, maxItems, MinFetchItems, MaxFetchItems)
	}

	agg := &AggregatePage{}
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets", f.baseURL, userID)
	prevToken := ""
	nextToken := ""

	for {
		remaining := maxItems - len(agg.Data)
		if remaining <= 0 {
			break
		}
		size := roundUpTo10(remaining)
		if size > pageCeiling {
			size = pageCeiling
		}

		params := url.Values{}
		for k, v := range defaultParams {
			params[k] = v
		}
		params.Set("max_results", fmt.Sprint(size))
		if !since.IsZero() {
			params.Set("start_time", since.UTC().Format(time.RFC3339))
		}
		if nextToken != "" {
			params.Set("pagination_token", nextToken)
		}

		resp, err := f.http.Do(ctx, http.MethodGet, endpoint, params, nil, f.header())
		if err != nil {
			return nil, fmt.Errorf("timeline request failed: %w", err)
		}
		var pg page
		if err := json.Unmarshal(resp.Body, &pg); err != nil {
			return nil, fmt.Errorf("failed to decode timeline page: %w", err)
		}

		f.log.Debug().
			Int("page_posts", len(pg.Data)).
			Int("total_posts", len(agg.Data)+len(pg.Data)).
			Str("next_token", pg.Meta.NextToken).
			Msg("Fetched timeline page")

		agg.Merge(&AggregatePage{Data: pg.Data, Includes: pg.Includes, NextToken: pg.Meta.NextToken})

		if pg.Meta.NextToken == "" {
			break
		}
		if pg.Meta.NextToken == prevToken || pg.Meta.NextToken == nextToken {
			f.log.Warn().Str("token", pg.Meta.NextToken).Msg("Pagination cursor repeated, stopping")
			break
		}
		prevToken = nextToken
		nextToken = pg.Meta.NextToken
	}

	if len(agg.Data) == 0 {
		return nil, ErrNoPosts
	}
	if len(agg.Data) > maxItems {
		agg.Data = agg.Data[:maxItems]
	}
	return agg, nil
}

// lookupResponse mirrors a single-item response.
type lookupResponse struct {
	Data     Post     `json:"data"`
	Includes Includes `json:"includes"`
}

// LookupPost resolves a single post by id, bypassing pagination. Used for
// reply/quote targets and pin lookups.
func (f *Fetcher) LookupPost(ctx context.Context, id string) (*Post, *Includes, error) {
	params := url.Values{}
	for k, v := range defaultParams {
		params[k] = v
	}
	resp, err := f.http.Do(ctx, http.MethodGet, fmt.Sprintf("%s/2/tweets/%s", f.baseURL, id), params, nil, f.header())
	if err != nil {
		return nil, nil, fmt.Errorf("post lookup %s failed: %w", id, err)
	}
	var lr lookupResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return nil, nil, fmt.Errorf("failed to decode post %s: %w", id, err)
	}
	return &lr.Data, &lr.Includes, nil
}

// userResponse mirrors a user lookup response.
type userResponse struct {
	Data User `json:"data"`
}

// UserByUsername resolves a source account profile (bio, avatar, banner,
// pinned post id) by handle.
func (f *Fetcher) UserByUsername(ctx context.Context, username string) (*User, error) {
	params := url.Values{"user.fields": defaultParams["user.fields"]}
	resp, err := f.http.Do(ctx, http.MethodGet, fmt.Sprintf("%s/2/users/by/username/%s", f.baseURL, url.PathEscape(username)), params, nil, f.header())
	if err != nil {
		return nil, fmt.Errorf("user lookup %s failed: %w", username, err)
	}
	var ur userResponse
	if err := json.Unmarshal(resp.Body, &ur); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", username, err)
	}
	return &ur.Data, nil
}
