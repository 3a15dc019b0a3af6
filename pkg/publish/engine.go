// Copyright 2025-2026 Roberto Szek

// Package publish posts transformed units to the target backend, keeps the
// persisted source-id → target-id map, and drives the pin state machine.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/robertoszek/fedimirror/pkg/fediverse"
	"github.com/robertoszek/fedimirror/pkg/httpx"
	"github.com/robertoszek/fedimirror/pkg/store"
	"github.com/robertoszek/fedimirror/pkg/transform"
)

// targetAPI is the slice of the fediverse client the engine drives. Tests
// inject a fake instead of requiring a live backend.
type targetAPI interface {
	CreateStatus(ctx context.Context, params fediverse.StatusParams) (*fediverse.Status, error)
	Reblog(ctx context.Context, id string) (*fediverse.Status, error)
	GetStatus(ctx context.Context, id string) (*fediverse.Status, error)
	UploadMedia(ctx context.Context, path, description string) (*fediverse.Attachment, error)
	Pin(ctx context.Context, id string) error
	Unpin(ctx context.Context, id string) error
	AccountStatuses(ctx context.Context, pinnedOnly bool, limit int, maxID string) ([]fediverse.Status, error)
}

var _ targetAPI = (*fediverse.Client)(nil)

// ErrSkipped is returned by Publish when the unit is empty and nothing was
// created. Callers count it, they do not abort on it.
var ErrSkipped = errors.New("unit has no content to publish")

// Options configure the engine.
type Options struct {
	// AvoidDuplicates makes Publish return the cached target id for a source
	// id that is already mapped, after verifying the target post still
	// exists.
	AvoidDuplicates bool
	// Visibility is passed through to status creation.
	Visibility string
	// ContentType is passed to Pleroma-family backends (e.g.
	// text/markdown); empty omits it.
	ContentType string
	// PinFallbackPages bounds the recent-post scan used when the persisted
	// pin record is missing.
	PinFallbackPages int
	// PinFallbackPageSize is the page size for that scan.
	PinFallbackPageSize int
}

// Engine publishes units for one (backend endpoint, account) pair. It owns
// the id map and the pin records exclusively; no other component writes them.
type Engine struct {
	api  targetAPI
	ids  store.Store
	opts Options
	log  zerolog.Logger

	pinSource *store.Record
	pinTarget *store.Record
}

// NewEngine creates an engine over the given target API and persisted state.
func NewEngine(api targetAPI, ids store.Store, pinSource, pinTarget *store.Record, opts Options, log zerolog.Logger) *Engine {
	if opts.PinFallbackPages <= 0 {
		opts.PinFallbackPages = 2
	}
	if opts.PinFallbackPageSize <= 0 {
		opts.PinFallbackPageSize = 20
	}
	return &Engine{
		api:       api,
		ids:       ids,
		opts:      opts,
		log:       log.With().Str("component", "publish").Logger(),
		pinSource: pinSource,
		pinTarget: pinTarget,
	}
}

// MappedTargetID returns the target id mapped to sourceID, if any.
func (e *Engine) MappedTargetID(sourceID string) (string, bool) {
	v, ok, err := e.ids.Get(sourceID)
	if err != nil || v == "" {
		return "", false
	}
	return v, ok
}

// Publish posts one unit and returns the target post id. The id map is
// updated only after the backend confirms creation.
func (e *Engine) Publish(ctx context.Context, unit *transform.PublishUnit) (string, error) {
	log := e.log.With().Str("source_id", unit.SourceID).Logger()

	// Duplicate check: short-circuit posts that are already mirrored and
	// still exist on the target. Only a 404 means the post is gone; any
	// other failure must not trigger a re-post.
	if e.opts.AvoidDuplicates {
		if targetID, ok := e.MappedTargetID(unit.SourceID); ok {
			_, err := e.api.GetStatus(ctx, targetID)
			switch {
			case err == nil:
				log.Debug().Str("target_id", targetID).Msg("Already mirrored, skipping")
				return targetID, nil
			case httpx.IsStatus(err, http.StatusNotFound):
				log.Warn().Str("target_id", targetID).Msg("Mapped target post no longer exists, re-posting")
			default:
				return "", fmt.Errorf("duplicate check for %s failed: %w", unit.SourceID, err)
			}
		}
	}

	// Pure retweets of an already-mirrored post become reblogs.
	if unit.RetweetOfID != "" {
		if targetID, ok := e.MappedTargetID(unit.RetweetOfID); ok {
			if _, err := e.api.Reblog(ctx, targetID); err != nil {
				return "", fmt.Errorf("reblog failed: %w", err)
			}
			if err := e.ids.Put(unit.SourceID, targetID); err != nil {
				return "", fmt.Errorf("failed to persist id mapping: %w", err)
			}
			log.Info().Str("target_id", targetID).Msg("Reblogged mirrored post")
			return targetID, nil
		}
	}

	params := fediverse.StatusParams{
		Status:      unit.Text,
		Visibility:  e.opts.Visibility,
		ContentType: e.opts.ContentType,
	}
	if unit.Sensitive {
		params.Sensitive = ptr.Ptr(true)
	}

	// Replies link to the mapped target post when we have one.
	if unit.ReplyToID != "" {
		if targetID, ok := e.MappedTargetID(unit.ReplyToID); ok {
			params.InReplyToID = targetID
		}
	}

	mediaIDs, err := e.uploadMedia(ctx, unit)
	if err != nil {
		return "", err
	}
	params.MediaIDs = mediaIDs

	if unit.Poll != nil && len(mediaIDs) == 0 {
		params.Poll = &fediverse.PollParams{
			Options:          unit.Poll.Options,
			ExpiresInSeconds: unit.Poll.ExpiresInSeconds,
		}
	}

	if params.Status == "" && len(params.MediaIDs) == 0 && params.Poll == nil {
		log.Debug().Msg("Nothing left to publish, skipping")
		return "", ErrSkipped
	}

	st, err := e.api.CreateStatus(ctx, params)
	if err != nil {
		return "", fmt.Errorf("publish of %s failed: %w", unit.SourceID, err)
	}
	if err := e.ids.Put(unit.SourceID, st.ID); err != nil {
		return "", fmt.Errorf("failed to persist id mapping: %w", err)
	}
	log.Info().Str("target_id", st.ID).Msg("Published post")
	return st.ID, nil
}

// uploadMedia uploads the unit's local files. A 413 or 422 on one attachment
// drops that attachment; anything else is fatal for the post.
func (e *Engine) uploadMedia(ctx context.Context, unit *transform.PublishUnit) ([]string, error) {
	var ids []string
	for _, m := range unit.Media {
		if m.LocalPath == "" {
			continue
		}
		att, err := e.api.UploadMedia(ctx, m.LocalPath, m.AltText)
		if err != nil {
			if httpx.IsStatus(err, http.StatusRequestEntityTooLarge) || httpx.IsStatus(err, http.StatusUnprocessableEntity) {
				e.log.Warn().Err(err).Str("path", m.LocalPath).Msg("Backend rejected attachment, dropping it")
				continue
			}
			return nil, fmt.Errorf("media upload failed: %w", err)
		}
		ids = append(ids, att.ID)
	}
	return ids, nil
}
