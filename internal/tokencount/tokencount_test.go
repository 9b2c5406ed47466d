package tokencount

import (
	"strings"
	"testing"

	respcache "github.com/eugener/respcache/internal"
)

func TestText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := Text(tt.in); got != tt.want {
			t.Errorf("Text(%d chars) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestEstimatePrompt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    respcache.Prompt
		want int64
	}{
		{"user only", respcache.Prompt{User: "abcd"}, 3 + 4 + 1},
		{"system and user", respcache.Prompt{System: "abcdefgh", User: "abcd"}, 3 + 4 + 2 + 4 + 1},
		{"completion budget", respcache.Prompt{User: "abcd", MaxTokens: 200}, 3 + 4 + 1 + 200},
		{"negative budget ignored", respcache.Prompt{User: "abcd", MaxTokens: -5}, 3 + 4 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimatePrompt(tt.p); got != tt.want {
				t.Errorf("EstimatePrompt = %d, want %d", got, tt.want)
			}
		})
	}
}
