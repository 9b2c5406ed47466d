// Package tokencount estimates token usage for TPM rate limiting before the
// upstream reports the real count. It uses a ~4 characters per token heuristic.
package tokencount

import (
	respcache "github.com/eugener/respcache/internal"
)

const (
	messageOverhead = 4 // role and framing tokens per chat message
	replyPriming    = 3
)

// EstimatePrompt estimates the total tokens a generation for p will consume:
// the system and user messages plus the completion budget.
func EstimatePrompt(p respcache.Prompt) int64 {
	total := replyPriming
	if p.System != "" {
		total += messageOverhead + Text(p.System)
	}
	total += messageOverhead + Text(p.User)
	total += max(p.MaxTokens, 0)
	return int64(total)
}

// Text estimates tokens for a plain string.
func Text(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
