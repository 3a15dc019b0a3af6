// Copyright 2025-2026 Roberto Szek

// Package config loads and validates the mirror configuration. Every setting
// is a named, typed field with a documented default; misspelled keys fail
// YAML decoding instead of silently becoming no-op settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by PostProcess.
const (
	DefaultSourceBaseURL      = "https://api.twitter.com"
	DefaultMaxItems           = 40
	DefaultVisibility         = "unlisted"
	DefaultSizeCeilingMB      = 40
	DefaultLockTimeoutSeconds = 60
	DefaultDateFormat         = "2006-01-02 15:04"

	maxProfileFields = 4
)

var validVisibilities = map[string]bool{
	"public":   true,
	"unlisted": true,
	"private":  true,
	"direct":   true,
}

// Config is the whole mirror configuration file.
type Config struct {
	// SourceBaseURL is the source API root. Defaults to the Twitter v2 API.
	SourceBaseURL string `yaml:"source_base_url"`
	// SourceTokenEnv names the environment variable holding the source
	// bearer token. Defaults to SOURCE_BEARER_TOKEN.
	SourceTokenEnv string `yaml:"source_token_env"`
	// StateDir is where id maps, pin records and the run lock live.
	// Defaults to ./state.
	StateDir string `yaml:"state_dir"`
	// LockTimeoutSeconds bounds the wait for the run lock. Defaults to 60.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
	// LogLevel is a zerolog level name. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Accounts []Account `yaml:"accounts"`
}

// ProfileField is one name/value pair mirrored onto the target profile.
type ProfileField struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Account is one source account → target backend mirror.
type Account struct {
	// SourceUsername is the source account handle, without the @.
	SourceUsername string `yaml:"source_username"`
	// TargetBaseURL is the target instance root, e.g. https://pleroma.site.
	TargetBaseURL string `yaml:"target_base_url"`
	// TargetTokenEnv names the environment variable holding the target
	// access token. Defaults to TARGET_ACCESS_TOKEN.
	TargetTokenEnv string `yaml:"target_token_env"`

	// MaxItems caps how many posts one run fetches; must lie in [10, 3200].
	// Defaults to 40.
	MaxItems int `yaml:"max_items"`
	// ForceDate overrides the lookback start ("2006-01-02"); empty uses the
	// target account's last post date, or two days when there is none.
	ForceDate string `yaml:"force_date"`

	IncludeRetweets bool `yaml:"include_retweets"`
	IncludeQuotes   bool `yaml:"include_quotes"`
	IncludeReplies  bool `yaml:"include_replies"`
	// Hashtags is an allow-list; when non-empty, posts without a matching
	// hashtag are skipped.
	Hashtags []string `yaml:"hashtags"`

	// Visibility of mirrored posts: public, unlisted, private or direct.
	// Defaults to unlisted.
	Visibility string `yaml:"visibility"`
	// Sensitive marks all mirrored media as sensitive.
	Sensitive bool `yaml:"sensitive"`
	// AvoidDuplicates skips posts whose mapped target post still exists.
	// Defaults to true (set avoid_duplicates: false to disable).
	AvoidDuplicates *bool `yaml:"avoid_duplicates"`

	// RewriteMentions links @handles back to the source platform.
	RewriteMentions bool `yaml:"rewrite_mentions"`
	// AlternateDomain replaces source-platform domains in links (e.g.
	// nitter.net).
	AlternateDomain string `yaml:"alternate_domain"`
	// Signature is an annotation template appended to every post.
	// Placeholders: {{.SourceURL}}, {{.Username}}, {{.Date}}.
	Signature string `yaml:"signature"`
	// KeepDate appends the original post date.
	KeepDate bool `yaml:"keep_date"`
	// DateFormat is a Go reference-time layout. Defaults to
	// "2006-01-02 15:04".
	DateFormat string `yaml:"date_format"`

	// MediaSizeCeilingMB drops any single media file larger than this many
	// megabytes. Defaults to 40; 0 keeps the default, -1 disables the cap.
	MediaSizeCeilingMB int `yaml:"media_size_ceiling_mb"`

	// MirrorProfile also mirrors display name, bio, avatar and banner.
	MirrorProfile bool `yaml:"mirror_profile"`
	// ProfileFields are shown on the target profile; at most 4.
	ProfileFields []ProfileField `yaml:"profile_fields"`
	// SyncPins mirrors the source account's pinned post.
	SyncPins bool `yaml:"sync_pins"`
}

// LockTimeout returns the run-lock wait bound as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// OverrideForceDate applies a command-line force date to every account. The
// value is validated the same way a file value is, before any network call.
func (c *Config) OverrideForceDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid force date %q: %w", date, err)
	}
	for i := range c.Accounts {
		c.Accounts[i].ForceDate = date
	}
	return nil
}

// SourceToken reads the source bearer token from the environment.
func (c *Config) SourceToken() string {
	return os.Getenv(c.SourceTokenEnv)
}

// TargetToken reads the account's target access token from the environment.
func (a *Account) TargetToken() string {
	return os.Getenv(a.TargetTokenEnv)
}

// AvoidDuplicatesEnabled resolves the tri-state flag with its default.
func (a *Account) AvoidDuplicatesEnabled() bool {
	return a.AvoidDuplicates == nil || *a.AvoidDuplicates
}

// Load reads, decodes, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.PostProcess()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess fills in documented defaults.
func (c *Config) PostProcess() {
	if c.SourceBaseURL == "" {
		c.SourceBaseURL = DefaultSourceBaseURL
	}
	if c.SourceTokenEnv == "" {
		c.SourceTokenEnv = "SOURCE_BEARER_TOKEN"
	}
	if c.StateDir == "" {
		c.StateDir = "state"
	}
	if c.LockTimeoutSeconds <= 0 {
		c.LockTimeoutSeconds = DefaultLockTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.TargetTokenEnv == "" {
			a.TargetTokenEnv = "TARGET_ACCESS_TOKEN"
		}
		if a.MaxItems == 0 {
			a.MaxItems = DefaultMaxItems
		}
		if a.Visibility == "" {
			a.Visibility = DefaultVisibility
		}
		if a.DateFormat == "" {
			a.DateFormat = DefaultDateFormat
		}
		if a.MediaSizeCeilingMB == 0 {
			a.MediaSizeCeilingMB = DefaultSizeCeilingMB
		}
	}
}

// Validate fails fast on configuration errors, before any network call.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("config has no accounts")
	}
	for i := range c.Accounts {
		if err := c.Accounts[i].Validate(); err != nil {
			return fmt.Errorf("account %d (%s): %w", i, c.Accounts[i].SourceUsername, err)
		}
	}
	return nil
}

// Validate checks one account's settings.
func (a *Account) Validate() error {
	if a.SourceUsername == "" {
		return fmt.Errorf("source_username is required")
	}
	if a.TargetBaseURL == "" {
		return fmt.Errorf("target_base_url is required")
	}
	if !validVisibilities[a.Visibility] {
		return fmt.Errorf("invalid visibility %q (want public, unlisted, private or direct)", a.Visibility)
	}
	if len(a.ProfileFields) > maxProfileFields {
		return fmt.Errorf("too many profile_fields: %d (max %d)", len(a.ProfileFields), maxProfileFields)
	}
	if a.ForceDate != "" {
		if _, err := time.Parse("2006-01-02", a.ForceDate); err != nil {
			return fmt.Errorf("invalid force_date %q: %w", a.ForceDate, err)
		}
	}
	return nil
}
