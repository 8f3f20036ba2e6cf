// Package budget estimates prompt token costs and partitions item lists
// into chunks that fit a token budget. The estimate is a cheap character
// heuristic, not a real tokenizer; callers size requests conservatively
// around it.
package budget

// Estimate returns the approximate token cost of s: roughly one token per
// four characters, rounded up.
func Estimate(s string) int {
	return (len(s) + 3) / 4
}

// ItemCost returns the prompt cost of embedding s as one list item,
// including quoting and comma overhead.
func ItemCost(s string) int {
	return Estimate(s) + 2
}

// Chunk partitions items into consecutive chunks whose summed ItemCost
// stays within maxTokens. Items are never split or reordered; an item
// whose own cost exceeds maxTokens gets a chunk of its own. Flattening
// the result in order reproduces items exactly.
func Chunk(items []string, maxTokens int) [][]string {
	if len(items) == 0 {
		return nil
	}

	var chunks [][]string
	var current []string
	running := 0
	for _, item := range items {
		cost := ItemCost(item)
		if len(current) > 0 && running+cost > maxTokens {
			chunks = append(chunks, current)
			current = nil
			running = 0
		}
		current = append(current, item)
		running += cost
	}
	return append(chunks, current)
}
