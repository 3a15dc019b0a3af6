// Copyright 2025-2026 Roberto Szek

// Package twitter fetches posts from a Twitter-shaped v2 source API:
// paginated timelines whose pages carry denormalized "includes" arrays for
// users, referenced posts, media, and polls.
package twitter

import "time"

// Reference kinds as reported by the source API.
const (
	RefReply   = "replied_to"
	RefRetweet = "retweeted"
	RefQuote   = "quoted"
)

// Media kinds.
const (
	MediaPhoto       = "photo"
	MediaVideo       = "video"
	MediaAnimatedGIF = "animated_gif"
)

// Reference is a typed pointer from one post to another.
type Reference struct {
	Kind string `json:"type"`
	ID   string `json:"id"`
}

// URLEntity maps a shortened URL occurrence in the post text to its expanded
// form.
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url"`
}

// HashtagEntity is a hashtag occurrence in the post text.
type HashtagEntity struct {
	Tag string `json:"tag"`
}

// Entities are the text annotations the source attaches to a post.
type Entities struct {
	URLs     []URLEntity     `json:"urls"`
	Hashtags []HashtagEntity `json:"hashtags"`
}

// Attachments carries the keys of media and polls attached to a post. The
// entities themselves live in the page includes.
type Attachments struct {
	MediaKeys []string `json:"media_keys"`
	PollIDs   []string `json:"poll_ids"`
}

// Post is a single unit of source content.
type Post struct {
	ID                string      `json:"id"`
	Text              string      `json:"text"`
	AuthorID          string      `json:"author_id"`
	CreatedAt         time.Time   `json:"created_at"`
	PossiblySensitive bool        `json:"possibly_sensitive"`
	References        []Reference `json:"referenced_tweets"`
	Attachments       Attachments `json:"attachments"`
	Entities          *Entities   `json:"entities"`
}

// Reference returns the first reference of the given kind, or nil.
func (p *Post) Reference(kind string) *Reference {
	for i := range p.References {
		if p.References[i].Kind == kind {
			return &p.References[i]
		}
	}
	return nil
}

// IsRetweet reports whether the post is a pure retweet of another post.
func (p *Post) IsRetweet() bool { return p.Reference(RefRetweet) != nil }

// Variant is one downloadable rendition of a video or animated image.
// Thumbnail renditions carry no bit rate.
type Variant struct {
	BitRate     int    `json:"bit_rate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// Media is a media object from the page includes.
type Media struct {
	Key      string    `json:"media_key"`
	Kind     string    `json:"type"`
	URL      string    `json:"url"`
	AltText  string    `json:"alt_text"`
	Variants []Variant `json:"variants"`
}

// PollOption is a single poll choice.
type PollOption struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
}

// Poll is a poll object from the page includes.
type Poll struct {
	ID              string       `json:"id"`
	Options         []PollOption `json:"options"`
	DurationMinutes int          `json:"duration_minutes"`
}

// User is a source account profile.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	PinnedPostID     string `json:"pinned_tweet_id"`
	ProfileImageURL  string `json:"profile_image_url"`
	ProfileBannerURL string `json:"profile_banner_url"`
}

// Includes holds the denormalized entities referenced by key from within a
// page of posts.
type Includes struct {
	Users []User  `json:"users"`
	Posts []Post  `json:"tweets"`
	Media []Media `json:"media"`
	Polls []Poll  `json:"polls"`
}

// PostByID returns the included post with the given id, or nil.
func (in *Includes) PostByID(id string) *Post {
	for i := range in.Posts {
		if in.Posts[i].ID == id {
			return &in.Posts[i]
		}
	}
	return nil
}

// UserByID returns the included user with the given id, or nil.
func (in *Includes) UserByID(id string) *User {
	for i := range in.Users {
		if in.Users[i].ID == id {
			return &in.Users[i]
		}
	}
	return nil
}

// MediaByKey returns the included media with the given key, or nil.
func (in *Includes) MediaByKey(key string) *Media {
	for i := range in.Media {
		if in.Media[i].Key == key {
			return &in.Media[i]
		}
	}
	return nil
}

// PollByID returns the included poll with the given id, or nil.
func (in *Includes) PollByID(id string) *Poll {
	for i := range in.Polls {
		if in.Polls[i].ID == id {
			return &in.Polls[i]
		}
	}
	return nil
}

// merge appends other's entities, skipping ids already present. A retried or
// overlapping page therefore never duplicates an include.
func (in *Includes) merge(other Includes) {
	users := make(map[string]struct{}, len(in.Users))
	for _, u := range in.Users {
		users[u.ID] = struct{}{}
	}
	for _, u := range other.Users {
		if _, dup := users[u.ID]; !dup {
			users[u.ID] = struct{}{}
			in.Users = append(in.Users, u)
		}
	}

	posts := make(map[string]struct{}, len(in.Posts))
	for _, p := range in.Posts {
		posts[p.ID] = struct{}{}
	}
	for _, p := range other.Posts {
		if _, dup := posts[p.ID]; !dup {
			posts[p.ID] = struct{}{}
			in.Posts = append(in.Posts, p)
		}
	}

	media := make(map[string]struct{}, len(in.Media))
	for _, m := range in.Media {
		media[m.Key] = struct{}{}
	}
	for _, m := range other.Media {
		if _, dup := media[m.Key]; !dup {
			media[m.Key] = struct{}{}
			in.Media = append(in.Media, m)
		}
	}

	polls := make(map[string]struct{}, len(in.Polls))
	for _, p := range in.Polls {
		polls[p.ID] = struct{}{}
	}
	for _, p := range other.Polls {
		if _, dup := polls[p.ID]; !dup {
			polls[p.ID] = struct{}{}
			in.Polls = append(in.Polls, p)
		}
	}
}

// AggregatePage is the merged result of walking a paginated timeline.
type AggregatePage struct {
	Data      []Post   `json:"data"`
	Includes  Includes `json:"includes"`
	NextToken string   `json:"-"`
}

// Merge folds page into the aggregate, deduplicating posts by id and
// includes by their respective keys.
func (a *AggregatePage) Merge(page *AggregatePage) {
	seen := make(map[string]struct{}, len(a.Data))
	for _, p := range a.Data {
		seen[p.ID] = struct{}{}
	}
	for _, p := range page.Data {
		if _, dup := seen[p.ID]; !dup {
			seen[p.ID] = struct{}{}
			a.Data = append(a.Data, p)
		}
	}
	a.Includes.merge(page.Includes)
	a.NextToken = page.NextToken
}
