package generate

import (
	"fmt"
	"strings"

	"github.com/eworthing/uniqgen/internal/budget"
)

// passPrompt builds the Pass 1 over-generation prompt.
func passPrompt(query string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List %d distinct examples of: %s.\n", count, query)
	b.WriteString("Respond with only a JSON array of strings, one item per element.\n")
	b.WriteString("No numbering, no commentary, no duplicate or near-duplicate entries.")
	return b.String()
}

// backfillPrompt builds a supplementary prompt that embeds the avoid-list
// and, when the same items keep coming back, calls them out explicitly.
func backfillPrompt(query string, count int, avoid, emphasize []string, avoidMaxTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List %d more distinct examples of: %s.\n", count, query)
	b.WriteString("Respond with only a JSON array of strings.\n")

	if len(avoid) > 0 {
		b.WriteString("Do NOT include any of these (or trivial variants of them):\n")
		for _, chunk := range budget.Chunk(avoid, avoidMaxTokens) {
			b.WriteString(strings.Join(chunk, ", "))
			b.WriteString("\n")
		}
	}
	if len(emphasize) > 0 {
		fmt.Fprintf(&b, "You have repeatedly suggested these; they are especially unwanted: %s.\n",
			strings.Join(emphasize, ", "))
	}
	b.WriteString("Every item must be new.")
	return b.String()
}

// lastMilePrompt asks for an exact, small count to close a 1-2 item gap.
func lastMilePrompt(query string, count int, avoid []string, avoidMaxTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name exactly %d more distinct example(s) of: %s.\n", count, query)
	b.WriteString("Respond with only a JSON array of strings.\n")
	if len(avoid) > 0 {
		b.WriteString("Already used, do not repeat:\n")
		for _, chunk := range budget.Chunk(avoid, avoidMaxTokens) {
			b.WriteString(strings.Join(chunk, ", "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// avoidWindow selects a bounded rotating window over the seen keys.
// Small sets are sent whole; large sets contribute `window` keys starting
// at an offset that slides by `slide` each round, wrapping around so
// successive rounds cover the full set.
func avoidWindow(keys []string, round, window, slide int) []string {
	if len(keys) <= window || window <= 0 {
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}

	offset := ((round - 1) * slide) % len(keys)
	if offset < 0 {
		offset = 0
	}
	out := make([]string, 0, window)
	for i := 0; i < window; i++ {
		out = append(out, keys[(offset+i)%len(keys)])
	}
	return out
}

// mergeHints appends hint keys not already present in window, preserving
// order.
func mergeHints(window, hints []string) []string {
	present := make(map[string]struct{}, len(window))
	for _, k := range window {
		present[k] = struct{}{}
	}
	out := window
	for _, h := range hints {
		if _, ok := present[h]; ok {
			continue
		}
		out = append(out, h)
		present[h] = struct{}{}
	}
	return out
}
