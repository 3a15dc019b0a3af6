// Copyright 2025-2026 Roberto Szek

// Package fediverse is a client for Mastodon-compatible target backends
// (Mastodon, Pleroma, Akkoma). Backends differ in length limits and feature
// support; the client detects the flavor from instance info and exposes the
// right character-counting rule.
package fediverse

// Flavor identifies the target backend software.
type Flavor string

const (
	FlavorMastodon Flavor = "mastodon"
	FlavorPleroma  Flavor = "pleroma"
	FlavorAkkoma   Flavor = "akkoma"
)

// Status is a post on the target backend.
type Status struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Pinned    bool   `json:"pinned"`
	Reblog    *struct {
		ID string `json:"id"`
	} `json:"reblog"`
}

// Attachment is an uploaded media object.
type Attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Account is the authenticated account on the target backend.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// PollParams is the poll payload for status creation.
type PollParams struct {
	Options          []string `json:"options"`
	ExpiresInSeconds int      `json:"expires_in"`
}

// StatusParams is the payload for creating a status.
type StatusParams struct {
	Status      string      `json:"status"`
	InReplyToID string      `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string    `json:"media_ids,omitempty"`
	Poll        *PollParams `json:"poll,omitempty"`
	Visibility  string      `json:"visibility,omitempty"`
	Sensitive   *bool       `json:"sensitive,omitempty"`
	ContentType string      `json:"content_type,omitempty"` // Pleroma/Akkoma only
}

// ProfileField is one name/value pair shown on the target profile.
type ProfileField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProfileParams is the payload for updating the target account profile.
// Avatar and Header are local file paths; empty means leave unchanged.
type ProfileParams struct {
	DisplayName string
	Note        string
	Avatar      string
	Header      string
	Fields      []ProfileField
}

// instanceInfo is the subset of GET /api/v1/instance the client consumes.
type instanceInfo struct {
	Version      string `json:"version"`
	MaxTootChars int    `json:"max_toot_chars"` // Pleroma extension
	Configuration struct {
		Statuses struct {
			MaxCharacters int `json:"max_characters"`
		} `json:"statuses"`
	} `json:"configuration"`
}
