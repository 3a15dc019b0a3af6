// Copyright 2025-2026 Roberto Szek

package fediverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/httpx"
)

// defaultMaxChars is assumed when the instance does not advertise a limit.
const defaultMaxChars = 500

// Client talks to one Mastodon-compatible backend with one access token.
type Client struct {
	http    *httpx.Client
	baseURL string
	token   string

	flavor   Flavor
	maxChars int
	acctID   string
	log      zerolog.Logger
}

// NewClient creates a client for the backend at baseURL. Call Detect before
// publishing so the flavor and length limit reflect the actual instance.
func NewClient(client *httpx.Client, baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		http:     client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		flavor:   FlavorMastodon,
		maxChars: defaultMaxChars,
		log:      log.With().Str("component", "fediverse").Str("instance", baseURL).Logger(),
	}
}

func (c *Client) header(contentType string) http.Header {
	h := http.Header{"Authorization": {"Bearer " + c.token}}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.http.Do(ctx, http.MethodGet, c.baseURL+path, params, nil, c.header(""))
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+path, nil, payload, c.header("application/json"))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body, out)
}

// Detect queries instance info and adjusts the flavor and length limit.
// Failures fall back to Mastodon defaults; detection is best effort.
func (c *Client) Detect(ctx context.Context) {
	var info instanceInfo
	if err := c.getJSON(ctx, "/api/v1/instance", nil, &info); err != nil {
		c.log.Warn().Err(err).Msg("Instance info lookup failed, assuming Mastodon defaults")
		return
	}
	version := strings.ToLower(info.Version)
	switch {
	case strings.Contains(version, "akkoma"):
		c.flavor = FlavorAkkoma
	case strings.Contains(version, "pleroma"):
		c.flavor = FlavorPleroma
	default:
		c.flavor = FlavorMastodon
	}
	switch {
	case info.MaxTootChars > 0:
		c.maxChars = info.MaxTootChars
	case info.Configuration.Statuses.MaxCharacters > 0:
		c.maxChars = info.Configuration.Statuses.MaxCharacters
	}
	c.log.Info().
		Str("flavor", string(c.flavor)).
		Int("max_chars", c.maxChars).
		Msg("Detected target backend")
}

// Flavor returns the detected backend flavor.
func (c *Client) Flavor() Flavor { return c.flavor }

// MaxPostLength returns the instance's post length limit.
func (c *Client) MaxPostLength() int { return c.maxChars }

// MeasureLength counts text the way the backend does. Mastodon counts every
// URL as a fixed 23 characters regardless of its actual length; Pleroma and
// Akkoma count plain runes.
func (c *Client) MeasureLength(text string) int {
	if c.flavor == FlavorMastodon {
		return measureMastodon(text)
	}
	return len([]rune(text))
}

// VerifyCredentials returns the authenticated account.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.getJSON(ctx, "/api/v1/accounts/verify_credentials", nil, &acct); err != nil {
		return nil, fmt.Errorf("verify credentials failed: %w", err)
	}
	return &acct, nil
}

// CreateStatus publishes a new status.
func (c *Client) CreateStatus(ctx context.Context, params StatusParams) (*Status, error) {
	var st Status
	if err := c.postJSON(ctx, "/api/v1/statuses", params, &st); err != nil {
		return nil, fmt.Errorf("status create failed: %w", err)
	}
	if st.ID == "" {
		return nil, fmt.Errorf("status create returned no id")
	}
	return &st, nil
}

// Reblog reshares an existing status.
func (c *Client) Reblog(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.postJSON(ctx, "/api/v1/statuses/"+id+"/reblog", nil, &st); err != nil {
		return nil, fmt.Errorf("reblog of %s failed: %w", id, err)
	}
	return &st, nil
}

// GetStatus fetches a status by id. Used to verify that a previously mapped
// target post still exists.
func (c *Client) GetStatus(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.getJSON(ctx, "/api/v1/statuses/"+id, nil, &st); err != nil {
		return nil, fmt.Errorf("status lookup %s failed: %w", id, err)
	}
	return &st, nil
}

// UploadMedia uploads a local file as a media attachment.
func (c *Client) UploadMedia(ctx context.Context, path, description string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if description != "" {
		if err := mw.WriteField("description", description); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/v1/media", nil, buf.Bytes(), c.header(mw.FormDataContentType()))
	if err != nil {
		return nil, fmt.Errorf("media upload failed: %w", err)
	}
	var att Attachment
	if err := json.Unmarshal(resp.Body, &att); err != nil {
		return nil, fmt.Errorf("failed to decode media upload response: %w", err)
	}
	return &att, nil
}

// Pin pins a status to the profile.
func (c *Client) Pin(ctx context.Context, id string) error {
	if err := c.postJSON(ctx, "/api/v1/statuses/"+id+"/pin", nil, nil); err != nil {
		return fmt.Errorf("pin of %s failed: %w", id, err)
	}
	return nil
}

// Unpin removes a status from the profile pins.
func (c *Client) Unpin(ctx context.Context, id string) error {
	if err := c.postJSON(ctx, "/api/v1/statuses/"+id+"/unpin", nil, nil); err != nil {
		return fmt.Errorf("unpin of %s failed: %w", id, err)
	}
	return nil
}

// accountID returns the authenticated account's id, cached after the first
// lookup.
func (c *Client) accountID(ctx context.Context) (string, error) {
	if c.acctID != "" {
		return c.acctID, nil
	}
	acct, err := c.VerifyCredentials(ctx)
	if err != nil {
		return "", err
	}
	c.acctID = acct.ID
	return c.acctID, nil
}

// AccountStatuses lists the authenticated account's recent statuses. With
// pinnedOnly it returns only pinned statuses. A non-empty maxID pages further
// back: only statuses older than maxID are returned.
func (c *Client) AccountStatuses(ctx context.Context, pinnedOnly bool, limit int, maxID string) ([]Status, error) {
	id, err := c.accountID(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	if pinnedOnly {
		params.Set("pinned", "true")
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	var statuses []Status
	if err := c.getJSON(ctx, "/api/v1/accounts/"+id+"/statuses", params, &statuses); err != nil {
		return nil, fmt.Errorf("account statuses lookup failed: %w", err)
	}
	return statuses, nil
}

// UpdateCredentials mirrors profile fields onto the target account.
func (c *Client) UpdateCredentials(ctx context.Context, params ProfileParams) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if params.DisplayName != "" {
		mw.WriteField("display_name", params.DisplayName)
	}
	if params.Note != "" {
		mw.WriteField("note", params.Note)
	}
	for i, f := range params.Fields {
		mw.WriteField(fmt.Sprintf("fields_attributes[%d][name]", i), f.Name)
		mw.WriteField(fmt.Sprintf("fields_attributes[%d][value]", i), f.Value)
	}
	for field, path := range map[string]string{"avatar": params.Avatar, "header": params.Header} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", field, err)
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}

	_, err := c.http.Do(ctx, http.MethodPatch, c.baseURL+"/api/v1/accounts/update_credentials", nil, buf.Bytes(), c.header(mw.FormDataContentType()))
	if err != nil {
		return fmt.Errorf("profile update failed: %w", err)
	}
	return nil
}
