// Copyright 2025-2026 Roberto Szek

package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/robertoszek/fedimirror/pkg/config"
	"github.com/robertoszek/fedimirror/pkg/fediverse"
	"github.com/robertoszek/fedimirror/pkg/httpx"
	"github.com/robertoszek/fedimirror/pkg/media"
	"github.com/robertoszek/fedimirror/pkg/publish"
	"github.com/robertoszek/fedimirror/pkg/store"
	"github.com/robertoszek/fedimirror/pkg/transform"
	"github.com/robertoszek/fedimirror/pkg/twitter"
)

// firstRunLookback is the synthetic window used when the target account has
// no posts yet and no force date is configured.
const firstRunLookback = 48 * time.Hour

// Summary is the per-account outcome of one run.
type Summary struct {
	Fetched   int
	Published int
	Skipped   int
}

// accountFlow is the sequential flow for one account. Fetch and publish are
// strictly sequential; only transformation fans out.
type accountFlow struct {
	cfg    *config.Config
	acct   *config.Account
	dryRun bool
	log    zerolog.Logger

	fetcher     *twitter.Fetcher
	target      *fediverse.Client
	transformer *transform.Transformer
	downloader  *media.Downloader
	engine      *publish.Engine
}

// newAccountFlow wires the pipeline for one account. Validation failures
// here are fatal for the account before any network call.
func newAccountFlow(cfg *config.Config, acct *config.Account, dryRun bool, log zerolog.Logger) (*accountFlow, error) {
	sourceHTTP := httpx.NewClient(log, httpx.WithLimiter(rate.NewLimiter(rate.Limit(1), 5)))
	targetHTTP := httpx.NewClient(log)

	tr, err := transform.New(transform.Options{
		IncludeRetweets: acct.IncludeRetweets,
		IncludeQuotes:   acct.IncludeQuotes,
		IncludeReplies:  acct.IncludeReplies,
		Hashtags:        acct.Hashtags,
		RewriteMentions: acct.RewriteMentions,
		AlternateDomain: acct.AlternateDomain,
		Signature:       acct.Signature,
		KeepDate:        acct.KeepDate,
		DateFormat:      acct.DateFormat,
		Sensitive:       acct.Sensitive,
	}, log)
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(cfg.StateDir, acct.SourceUsername)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create account state dir: %w", err)
	}
	ids, err := store.OpenFileStore(filepath.Join(stateDir, "ids.txt"))
	if err != nil {
		return nil, err
	}

	target := fediverse.NewClient(targetHTTP, acct.TargetBaseURL, acct.TargetToken(), log)
	engine := publish.NewEngine(target, ids,
		store.NewRecord(filepath.Join(stateDir, "pin_source.txt")),
		store.NewRecord(filepath.Join(stateDir, "pin_target.txt")),
		publish.Options{
			AvoidDuplicates: acct.AvoidDuplicatesEnabled(),
			Visibility:      acct.Visibility,
		}, log)
	tr.SetAlreadyMirrored(func(sourceID string) bool {
		_, ok := engine.MappedTargetID(sourceID)
		return ok
	})

	var ceiling int64
	if acct.MediaSizeCeilingMB > 0 {
		ceiling = int64(acct.MediaSizeCeilingMB) << 20
	}

	return &accountFlow{
		cfg:         cfg,
		acct:        acct,
		dryRun:      dryRun,
		log:         log,
		fetcher:     twitter.NewFetcher(sourceHTTP, cfg.SourceBaseURL, cfg.SourceToken(), log),
		target:      target,
		transformer: tr,
		downloader:  media.NewDownloader(targetHTTP, ceiling, log),
		engine:      engine,
	}, nil
}

func (f *accountFlow) run(ctx context.Context) (*Summary, error) {
	f.target.Detect(ctx)

	user, err := f.fetcher.UserByUsername(ctx, f.acct.SourceUsername)
	if err != nil {
		return nil, fmt.Errorf("source user lookup failed: %w", err)
	}

	since, err := f.sinceDate(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	page, err := f.fetcher.Timeline(ctx, user.ID, since, f.acct.MaxItems)
	switch {
	case errors.Is(err, twitter.ErrNoPosts):
		f.log.Info().Time("since", since).Msg("No new posts")
		page = &twitter.AggregatePage{}
	case err != nil:
		return nil, err
	}
	summary.Fetched = len(page.Data)

	// Oldest first, so reply/retweet mappings exist before dependents.
	sort.SliceStable(page.Data, func(i, j int) bool {
		return page.Data[i].CreatedAt.Before(page.Data[j].CreatedAt)
	})

	units := f.transformAll(ctx, page)

	for i := range units {
		if units[i] == nil {
			summary.Skipped++
			continue
		}
		if err := f.publishUnit(ctx, units[i], summary); err != nil {
			return summary, err
		}
	}

	if f.acct.MirrorProfile && !f.dryRun {
		if err := f.mirrorProfile(ctx, user); err != nil {
			return summary, err
		}
	}
	if f.acct.SyncPins && !f.dryRun {
		if err := f.engine.SyncPin(ctx, user.PinnedPostID); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// transformAll runs the transformation stage across a worker pool bounded by
// the available cores. Results keep the posts' order; a filtered post leaves
// a nil slot.
func (f *accountFlow) transformAll(ctx context.Context, page *twitter.AggregatePage) []*transform.PublishUnit {
	units := make([]*transform.PublishUnit, len(page.Data))
	limits := transform.Limits{
		MaxLength: f.target.MaxPostLength(),
		Measure:   f.target.MeasureLength,
	}

	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup
	for i := range page.Data {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			unit, err := f.transformer.Transform(ctx, &page.Data[i], &page.Includes, limits)
			if err != nil {
				f.log.Error().Err(err).Str("post_id", page.Data[i].ID).Msg("Transform failed, skipping post")
				return
			}
			units[i] = unit
		}(i)
	}
	wg.Wait()
	return units
}

// publishUnit downloads the unit's media, publishes it, and cleans up the
// per-post temp storage.
func (f *accountFlow) publishUnit(ctx context.Context, unit *transform.PublishUnit, summary *Summary) error {
	if f.dryRun {
		f.log.Info().Str("source_id", unit.SourceID).Str("text", unit.Text).Msg("Dry run, not publishing")
		summary.Skipped++
		return nil
	}
	if unit.Empty() {
		summary.Skipped++
		return nil
	}

	if len(unit.Media) > 0 {
		dir := filepath.Join(os.TempDir(), "fedimirror", f.acct.SourceUsername, unit.SourceID)
		files, err := f.downloader.Download(ctx, unit.Media, dir)
		if err != nil {
			return fmt.Errorf("media download for %s failed: %w", unit.SourceID, err)
		}
		unit.Media = files
		defer os.RemoveAll(dir)
	}

	_, err := f.engine.Publish(ctx, unit)
	switch {
	case errors.Is(err, publish.ErrSkipped):
		summary.Skipped++
		return nil
	case err != nil:
		return err
	}
	summary.Published++
	return nil
}

// sinceDate picks the lookback start: the configured force date, the target
// account's last post date, or a two-day window on a first run.
func (f *accountFlow) sinceDate(ctx context.Context) (time.Time, error) {
	if f.acct.ForceDate != "" {
		t, err := time.Parse("2006-01-02", f.acct.ForceDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid force_date: %w", err)
		}
		return t, nil
	}
	statuses, err := f.target.AccountStatuses(ctx, false, 1, "")
	if err != nil {
		f.log.Warn().Err(err).Msg("Last post lookup failed, using first-run lookback")
		return time.Now().Add(-firstRunLookback), nil
	}
	if len(statuses) == 0 {
		return time.Now().Add(-firstRunLookback), nil
	}
	last, err := time.Parse(time.RFC3339, statuses[0].CreatedAt)
	if err != nil {
		return time.Now().Add(-firstRunLookback), nil
	}
	return last, nil
}

// mirrorProfile pushes display name, rewritten bio, avatar, banner and the
// configured metadata fields to the target account.
func (f *accountFlow) mirrorProfile(ctx context.Context, user *twitter.User) error {
	params := fediverse.ProfileParams{
		DisplayName: user.Name,
		Note:        f.transformer.RewritePlain(user.Description),
	}
	for _, field := range f.acct.ProfileFields {
		params.Fields = append(params.Fields, fediverse.ProfileField{Name: field.Name, Value: field.Value})
	}

	dir := filepath.Join(os.TempDir(), "fedimirror", f.acct.SourceUsername, "profile")
	defer os.RemoveAll(dir)
	var refs []media.Ref
	if user.ProfileImageURL != "" {
		refs = append(refs, media.Ref{Key: "avatar", Kind: twitter.MediaPhoto, URL: user.ProfileImageURL})
	}
	if user.ProfileBannerURL != "" {
		refs = append(refs, media.Ref{Key: "banner", Kind: twitter.MediaPhoto, URL: user.ProfileBannerURL})
	}
	files, err := f.downloader.Download(ctx, refs, dir)
	if err != nil {
		return fmt.Errorf("profile media download failed: %w", err)
	}
	for _, file := range files {
		switch file.Key {
		case "avatar":
			params.Avatar = file.LocalPath
		case "banner":
			params.Header = file.LocalPath
		}
	}
	return f.target.UpdateCredentials(ctx, params)
}
