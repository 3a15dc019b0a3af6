// Copyright 2025-2026 Roberto Szek

// Package media extracts the best-quality media references from a post and
// materializes them to per-post temporary storage before upload.
package media

import (
	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/twitter"
)

// Ref is a resolved, downloadable media reference. Refs live only for the
// publish cycle of one post; nothing persists them.
type Ref struct {
	Key     string
	Kind    string
	URL     string
	AltText string

	// LocalPath is filled by the downloader once the file is on disk.
	LocalPath string
}

// bestVariantURL picks the variant with the maximum declared bit rate.
// Variants without a bit rate (thumbnails, playlists) are skipped; ties are
// broken by the last variant seen.
func bestVariantURL(variants []twitter.Variant) (string, bool) {
	best := -1
	url := ""
	for _, v := range variants {
		if v.BitRate == 0 {
			continue
		}
		if v.BitRate >= best {
			best = v.BitRate
			url = v.URL
		}
	}
	return url, url != ""
}

func refForMedia(m *twitter.Media) (Ref, bool) {
	ref := Ref{Key: m.Key, Kind: m.Kind, AltText: m.AltText}
	switch m.Kind {
	case twitter.MediaVideo, twitter.MediaAnimatedGIF:
		url, ok := bestVariantURL(m.Variants)
		if !ok {
			return Ref{}, false
		}
		ref.URL = url
	default:
		if m.URL == "" {
			return Ref{}, false
		}
		ref.URL = m.URL
	}
	return ref, true
}

// Resolve collects the media attached to post, following retweet and quote
// references so reshared media is mirrored too. References are deduplicated
// by URL so the same file is never downloaded twice for one post.
func Resolve(post *twitter.Post, includes *twitter.Includes, log zerolog.Logger) []Ref {
	var refs []Ref
	seen := make(map[string]struct{})

	add := func(p *twitter.Post) {
		for _, key := range p.Attachments.MediaKeys {
			m := includes.MediaByKey(key)
			if m == nil {
				log.Warn().Str("post_id", p.ID).Str("media_key", key).Msg("Media key not resolvable in includes")
				continue
			}
			ref, ok := refForMedia(m)
			if !ok {
				log.Warn().Str("media_key", key).Str("kind", m.Kind).Msg("No downloadable variant for media")
				continue
			}
			if _, dup := seen[ref.URL]; dup {
				continue
			}
			seen[ref.URL] = struct{}{}
			refs = append(refs, ref)
		}
	}

	add(post)
	for _, r := range post.References {
		if r.Kind != twitter.RefRetweet && r.Kind != twitter.RefQuote {
			continue
		}
		if nested := includes.PostByID(r.ID); nested != nil {
			add(nested)
		}
	}
	return refs
}
