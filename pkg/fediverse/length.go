// Copyright 2025-2026 Roberto Szek

package fediverse

import "regexp"

// urlCharWeight is what Mastodon counts any URL as, regardless of length.
const urlCharWeight = 23

var urlPattern = regexp.MustCompile(`https?://\S+`)

// measureMastodon counts text the way Mastodon's composer does: runes, with
// every URL weighted as a fixed 23 characters.
func measureMastodon(text string) int {
	total := 0
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		total += len([]rune(text[last:loc[0]])) + urlCharWeight
		last = loc[1]
	}
	return total + len([]rune(text[last:]))
}
