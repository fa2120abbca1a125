// Package generation produces answer text from a prompt using a language model.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"
)

// DefaultMaxPromptTokens is the maximum prompt length before truncation (in tokens).
const DefaultMaxPromptTokens = 16000

// ErrEmptyResponse is returned when the model replies with no choices.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Generator turns a prompt into text of at most maxTokens tokens.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// elision replaces the part of a prompt removed by truncatePrompt.
const elision = "\n[...]\n"

// truncatePrompt cuts prompt to fit within maxTokens.
// Uses rough estimate of 4 characters per token.
//
// The middle of the prompt is dropped: the head keeps the opening
// instructions and the best-ranked context, the tail keeps the question and
// the closing instructions.
func truncatePrompt(prompt string, maxTokens int, logger *slog.Logger) string {
	maxChars := maxTokens * 4
	n := utf8.RuneCountInString(prompt)
	if n <= maxChars {
		return prompt
	}

	logger.Warn("Truncating prompt",
		"chars", n, "max_chars", maxChars, "max_tokens", maxTokens)

	runes := []rune(prompt)
	marker := utf8.RuneCountInString(elision)
	if maxChars <= marker {
		return string(runes[n-maxChars:])
	}
	keep := maxChars - marker
	tail := keep / 2
	head := keep - tail
	return string(runes[:head]) + elision + string(runes[n-tail:])
}
