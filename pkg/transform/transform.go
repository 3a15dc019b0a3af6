// Copyright 2025-2026 Roberto Szek

// Package transform turns one raw source post into a publishable unit: text
// rewritten for the target platform, resolved media references, and an
// optional poll, all within the backend's length budget.
package transform

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/media"
	"github.com/robertoszek/fedimirror/pkg/twitter"
)

// maxReferenceDepth bounds how many reference hops (retweet of a quote of a
// retweet ...) are chased before giving up.
const maxReferenceDepth = 3

const ellipsis = "…"

// MeasureFunc counts text the way the target backend does. Backends may
// weigh URLs as a fixed width regardless of actual length.
type MeasureFunc func(string) int

// Limits are the per-platform constraints applied during transformation.
type Limits struct {
	MaxLength int
	Measure   MeasureFunc
}

// Poll is a platform-neutral poll descriptor.
type Poll struct {
	Options          []string
	ExpiresInSeconds int
}

// PublishUnit is one transformed post, ready for the publication engine.
type PublishUnit struct {
	SourceID    string
	Text        string
	CreatedAt   time.Time
	ReplyToID   string // source id of the reply target, if any
	RetweetOfID string // source id when the post is a pure retweet
	Media       []media.Ref
	Poll        *Poll
	Sensitive   bool
}

// Empty reports whether the unit carries nothing worth publishing.
func (u *PublishUnit) Empty() bool {
	return strings.TrimSpace(u.Text) == "" && len(u.Media) == 0 && u.Poll == nil
}

// Options configure the transformation pipeline.
type Options struct {
	IncludeRetweets bool
	IncludeQuotes   bool
	IncludeReplies  bool

	// Hashtags is an allow-list; when non-empty, posts whose hashtags all
	// miss the list are skipped.
	Hashtags []string

	// RewriteMentions turns @handle tokens into markdown links back to the
	// source platform.
	RewriteMentions bool
	// SourceDomain is the source platform's canonical domain (default
	// twitter.com).
	SourceDomain string
	// ExtraSourceDomains are additional domains treated as the source
	// platform when rewriting (default x.com).
	ExtraSourceDomains []string
	// AlternateDomain, when set, replaces source-platform domains in links
	// and mention targets (e.g. a nitter front-end).
	AlternateDomain string

	// Signature, when non-empty, is an annotation template appended to every
	// post (see AnnotationContext for the available placeholders).
	Signature string
	// KeepDate appends the original post date.
	KeepDate   bool
	DateFormat string

	// Sensitive marks every mirrored post as sensitive regardless of the
	// source flag.
	Sensitive bool
}

// Transformer applies the pipeline. It is safe for concurrent use; all state
// is read-only after New.
type Transformer struct {
	opts    Options
	sigTmpl *template.Template
	log     zerolog.Logger

	// expand resolves one shortened URL, reporting ok=false on any failure.
	// Failures never propagate; the URL is left untouched.
	expand func(ctx context.Context, url string) (string, bool)

	// alreadyMirrored reports whether a source id is already published, in
	// which case media resolution is skipped (the engine short-circuits the
	// post anyway).
	alreadyMirrored func(sourceID string) bool
}

// New builds a transformer, validating templates and options up front.
func New(opts Options, log zerolog.Logger) (*Transformer, error) {
	if opts.SourceDomain == "" {
		opts.SourceDomain = "twitter.com"
	}
	if opts.ExtraSourceDomains == nil {
		opts.ExtraSourceDomains = []string{"x.com"}
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02 15:04"
	}
	t := &Transformer{
		opts:   opts,
		log:    log.With().Str("component", "transform").Logger(),
		expand: newExpander().expand,
	}
	if opts.Signature != "" {
		tmpl, err := parseAnnotationTemplate("signature", opts.Signature)
		if err != nil {
			return nil, err
		}
		t.sigTmpl = tmpl
	}
	return t, nil
}

// SetAlreadyMirrored installs the duplicate lookup used to skip media
// resolution for posts that are already published.
func (t *Transformer) SetAlreadyMirrored(fn func(sourceID string) bool) {
	t.alreadyMirrored = fn
}

// sourceBaseURL is where mentions and backlinks point: the alternate
// front-end if configured, the source platform otherwise.
func (t *Transformer) sourceBaseURL() string {
	if t.opts.AlternateDomain != "" {
		return "https://" + t.opts.AlternateDomain
	}
	return "https://" + t.opts.SourceDomain
}

// Transform runs the pipeline on one post. A nil unit with a nil error means
// the post is filtered out and must be skipped, not published.
func (t *Transformer) Transform(ctx context.Context, post *twitter.Post, includes *twitter.Includes, limits Limits) (*PublishUnit, error) {
	if limits.MaxLength <= 0 {
		return nil, fmt.Errorf("platform max length must be positive, got %d", limits.MaxLength)
	}
	measure := limits.Measure
	if measure == nil {
		measure = func(s string) int { return len([]rune(s)) }
	}

	// 1. Reference resolution.
	text, replyTo, retweetOf := t.resolveReferences(post, includes, 0)

	// 2. Inclusion filters.
	if skip, reason := t.filtered(post, replyTo, retweetOf); skip {
		t.log.Debug().Str("post_id", post.ID).Str("reason", reason).Msg("Skipping post")
		return nil, nil
	}

	// 3. URL expansion.
	text = t.expandURLs(ctx, text, post, includes)

	// 4. Link/mention rewriting.
	if t.opts.RewriteMentions {
		text = t.rewriteMentions(text)
	}
	if t.opts.AlternateDomain != "" {
		text = t.rewriteDomains(text)
	}

	unit := &PublishUnit{
		SourceID:    post.ID,
		CreatedAt:   post.CreatedAt,
		ReplyToID:   replyTo,
		RetweetOfID: retweetOf,
		Sensitive:   t.opts.Sensitive || post.PossiblySensitive,
	}

	// Media resolution; skipped for already-mirrored posts so their files
	// are not fetched again.
	if t.alreadyMirrored == nil || !t.alreadyMirrored(post.ID) {
		unit.Media = media.Resolve(post, includes, t.log)
	}

	// 5. Signature/date annotation, length-budgeted.
	text, err := t.annotate(post, includes, text, measure, limits.MaxLength)
	if err != nil {
		return nil, err
	}

	// 6. Poll attachment. Media takes precedence; backends cannot combine
	// the two.
	if len(unit.Media) == 0 {
		unit.Poll = pollFor(post, includes)
	}

	// 7. Final hard truncation as a last-resort safety net.
	for measure(text) > limits.MaxLength {
		runes := []rune(text)
		text = string(runes[:len(runes)-1])
	}

	unit.Text = text
	return unit, nil
}

// RewritePlain applies the mention and domain rewriting steps to free-form
// text outside the post pipeline (e.g. a profile bio).
func (t *Transformer) RewritePlain(text string) string {
	if t.opts.RewriteMentions {
		text = t.rewriteMentions(text)
	}
	if t.opts.AlternateDomain != "" {
		text = t.rewriteDomains(text)
	}
	return text
}

// resolveReferences substitutes or prefixes text per reference kind. The
// depth counter caps chasing chains of referenced posts.
func (t *Transformer) resolveReferences(post *twitter.Post, includes *twitter.Includes, depth int) (text, replyTo, retweetOf string) {
	text = post.Text
	if depth > maxReferenceDepth {
		t.log.Warn().Str("post_id", post.ID).Int("depth", depth).Msg("Reference chain too deep, giving up")
		return text, "", ""
	}

	if ref := post.Reference(twitter.RefRetweet); ref != nil {
		retweetOf = ref.ID
		if original := includes.PostByID(ref.ID); original != nil {
			// Retweet text is truncated by the source; replace it with the
			// original, resolved in turn.
			resolved, _, _ := t.resolveReferences(original, includes, depth+1)
			text = fmt.Sprintf("RT %s: %s", t.authorHandle(original, includes), resolved)
		}
		return text, "", retweetOf
	}

	if ref := post.Reference(twitter.RefQuote); ref != nil {
		if original := includes.PostByID(ref.ID); original != nil {
			resolved, _, _ := t.resolveReferences(original, includes, depth+1)
			text = fmt.Sprintf("%s\n\nRT %s: %s", text, t.authorHandle(original, includes), resolved)
		}
	}

	if ref := post.Reference(twitter.RefReply); ref != nil {
		replyTo = ref.ID
	}
	return text, replyTo, retweetOf
}

func (t *Transformer) authorHandle(post *twitter.Post, includes *twitter.Includes) string {
	if user := includes.UserByID(post.AuthorID); user != nil {
		return "@" + user.Username
	}
	return "@unknown"
}

// filtered applies the inclusion filters; reason is for logging only.
func (t *Transformer) filtered(post *twitter.Post, replyTo, retweetOf string) (bool, string) {
	if retweetOf != "" && !t.opts.IncludeRetweets {
		return true, "retweets disabled"
	}
	if post.Reference(twitter.RefQuote) != nil && !t.opts.IncludeQuotes {
		return true, "quotes disabled"
	}
	if replyTo != "" && !t.opts.IncludeReplies {
		return true, "replies disabled"
	}
	if len(t.opts.Hashtags) > 0 && !t.hashtagMatch(post) {
		return true, "no hashtag match"
	}
	return false, ""
}

func (t *Transformer) hashtagMatch(post *twitter.Post) bool {
	if post.Entities == nil {
		return false
	}
	for _, h := range post.Entities.Hashtags {
		for _, allowed := range t.opts.Hashtags {
			if strings.EqualFold(h.Tag, strings.TrimPrefix(allowed, "#")) {
				return true
			}
		}
	}
	return false
}

var shortURLPattern = regexp.MustCompile(`https?://t\.co/\w+`)

// expandURLs replaces shortened URLs with their expanded form: source
// entities first, a HEAD request for anything left. Expansion failures leave
// the URL untouched and never raise.
func (t *Transformer) expandURLs(ctx context.Context, text string, post *twitter.Post, includes *twitter.Includes) string {
	expandFromEntities := func(e *twitter.Entities) {
		if e == nil {
			return
		}
		for _, u := range e.URLs {
			if u.ExpandedURL != "" {
				text = strings.ReplaceAll(text, u.URL, u.ExpandedURL)
			}
		}
	}
	expandFromEntities(post.Entities)
	for _, r := range post.References {
		if nested := includes.PostByID(r.ID); nested != nil {
			expandFromEntities(nested.Entities)
		}
	}

	for _, short := range shortURLPattern.FindAllString(text, -1) {
		expanded, ok := t.expand(ctx, short)
		if !ok {
			t.log.Debug().Str("url", short).Msg("URL expansion failed, leaving as-is")
			continue
		}
		text = strings.ReplaceAll(text, short, expanded)
	}
	return text
}

var mentionPattern = regexp.MustCompile(`(^|[^\w@])@(\w{1,15})\b`)

// rewriteMentions turns @handle into a markdown link back to the source
// platform (or its alternate front-end).
func (t *Transformer) rewriteMentions(text string) string {
	base := t.sourceBaseURL()
	return mentionPattern.ReplaceAllString(text, fmt.Sprintf("$1[@$2](%s/$2)", base))
}

// rewriteDomains points source-platform links at the alternate front-end.
func (t *Transformer) rewriteDomains(text string) string {
	domains := append([]string{t.opts.SourceDomain}, t.opts.ExtraSourceDomains...)
	for _, d := range domains {
		text = strings.ReplaceAll(text, "://"+d+"/", "://"+t.opts.AlternateDomain+"/")
		text = strings.ReplaceAll(text, "://www."+d+"/", "://"+t.opts.AlternateDomain+"/")
	}
	return text
}

// annotate appends the signature and date annotations, truncating the body
// with an ellipsis if needed so the measured total never exceeds max.
func (t *Transformer) annotate(post *twitter.Post, includes *twitter.Includes, body string, measure MeasureFunc, max int) (string, error) {
	var annotation strings.Builder
	actx := AnnotationContext{
		Username: strings.TrimPrefix(t.authorHandle(post, includes), "@"),
		Date:     post.CreatedAt.Format(t.opts.DateFormat),
	}
	actx.SourceURL = fmt.Sprintf("%s/%s/status/%s", t.sourceBaseURL(), actx.Username, post.ID)

	if t.sigTmpl != nil {
		rendered, err := renderAnnotation(t.sigTmpl, actx)
		if err != nil {
			return "", err
		}
		annotation.WriteString("\n\n" + rendered)
	}
	if t.opts.KeepDate {
		annotation.WriteString("\n\n[" + actx.Date + "]")
	}
	if annotation.Len() == 0 {
		return body, nil
	}

	suffix := annotation.String()
	budget := max - measure(suffix)
	if budget < 0 {
		// The annotation alone exceeds the limit; step 7 hard-truncates.
		return body + suffix, nil
	}
	if measure(body) > budget {
		body = truncateWithEllipsis(body, budget, measure)
	}
	return body + suffix, nil
}

// truncateWithEllipsis trims body until it fits budget with a trailing
// ellipsis under the given measuring rule.
func truncateWithEllipsis(body string, budget int, measure MeasureFunc) string {
	runes := []rune(body)
	for len(runes) > 0 && measure(string(runes)+ellipsis) > budget {
		runes = runes[:len(runes)-1]
	}
	if len(runes) == 0 {
		return ""
	}
	return strings.TrimRight(string(runes), " \n") + ellipsis
}

// pollFor extracts the poll descriptor attached to the post, if any.
func pollFor(post *twitter.Post, includes *twitter.Includes) *Poll {
	for _, id := range post.Attachments.PollIDs {
		src := includes.PollByID(id)
		if src == nil {
			continue
		}
		opts := make([]twitter.PollOption, len(src.Options))
		copy(opts, src.Options)
		sort.SliceStable(opts, func(i, j int) bool { return opts[i].Position < opts[j].Position })
		labels := make([]string, 0, len(opts))
		for _, o := range opts {
			labels = append(labels, o.Label)
		}
		return &Poll{Options: labels, ExpiresInSeconds: src.DurationMinutes * 60}
	}
	return nil
}
