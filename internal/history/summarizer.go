package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/compresr/reply-gateway/external"
)

// DefaultSummaryPrompt instructs the model to condense prior replies.
var DefaultSummaryPrompt = `You maintain a running memory of the replies one user has already posted under a single social-feed post.
Merge the previous summary (if any) with the replies listed, oldest first.
Capture tone, recurring jokes or themes, and anything the user committed to, so later replies can stay consistent without repeating themselves.
Write plain text in the language of the replies. No lists, no preamble.`

// Summarizer folds collapsed records into a summary via the generator.
type Summarizer struct {
	generator    external.Generator
	maxChars     int
	systemPrompt string
}

// NewSummarizer creates a summarizer producing at most maxChars characters.
func NewSummarizer(gen external.Generator, maxChars int) *Summarizer {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}
	return &Summarizer{generator: gen, maxChars: maxChars, systemPrompt: DefaultSummaryPrompt}
}

// Summarize returns an updated summary absorbing records into prior.
func (s *Summarizer) Summarize(ctx context.Context, prior string, records []ReplyRecord) (string, error) {
	if len(records) == 0 {
		return prior, nil
	}

	out, err := s.generator.Complete(ctx, external.Prompt{
		System: s.systemPrompt,
		User:   buildSummaryInput(prior, records, s.maxChars),
	}, s.maxChars)
	if err != nil {
		return "", err
	}

	summary := truncateRunes(strings.TrimSpace(out), s.maxChars)
	if summary == "" {
		return "", fmt.Errorf("empty summary returned")
	}
	return summary, nil
}

func buildSummaryInput(prior string, records []ReplyRecord, maxChars int) string {
	var b strings.Builder
	if prior != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	b.WriteString("Replies to fold in (oldest first):\n")
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Content)
	}
	fmt.Fprintf(&b, "\nRespond with the updated summary in at most %d characters.", maxChars)
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
