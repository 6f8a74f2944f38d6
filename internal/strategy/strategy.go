package strategy

import (
	"fmt"
	"strings"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/emotion"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/tokens"
)

// Defaults for Config.
const (
	DefaultMaxHistoryTokens = 1024
	DefaultMaxOutputChars   = 50
)

// Kind distinguishes the two template families.
type Kind int

const (
	KindFirstReply Kind = iota + 1
	KindContinuation
)

func (k Kind) String() string {
	switch k {
	case KindFirstReply:
		return "first_reply"
	case KindContinuation:
		return "continuation"
	}
	return "unknown"
}

// Config controls how much history reaches the prompt.
type Config struct {
	MaxHistoryTokens int    `yaml:"max_history_tokens"` // Budget for the literal tail
	Encoding         string `yaml:"encoding"`           // tiktoken encoding name
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxHistoryTokens == 0 {
		c.MaxHistoryTokens = DefaultMaxHistoryTokens
	}
	if c.Encoding == "" {
		c.Encoding = tokens.DefaultEncoding
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.MaxHistoryTokens < 1 {
		return fmt.Errorf("strategy.max_history_tokens must be positive")
	}
	return nil
}

// PromptTemplate is the decision made by Choose.
type PromptTemplate struct {
	Kind           Kind
	Style          Style
	Summary        string   // Continuation only
	Tail           []string // Prior replies in the prompt, oldest first
	Omitted        int      // Literal records left out by the token budget
	MaxOutputChars int
}

// Prompt is a rendered template.
type Prompt struct {
	external.Prompt
	MaxOutputChars int
}

// Selector chooses templates.
type Selector struct {
	counter        tokens.Counter
	maxTokens      int
	maxOutputChars int
}

// NewSelector creates a selector. A nil counter uses tokens.Heuristic.
func NewSelector(cfg Config, counter tokens.Counter, maxOutputChars int) *Selector {
	cfg = cfg.WithDefaults()
	if counter == nil {
		counter = tokens.CounterFunc(tokens.Heuristic)
	}
	if maxOutputChars <= 0 {
		maxOutputChars = DefaultMaxOutputChars
	}
	return &Selector{counter: counter, maxTokens: cfg.MaxHistoryTokens, maxOutputChars: maxOutputChars}
}

// Choose picks the template for a reply. It does not touch h.
func (s *Selector) Choose(style Style, isFirst bool, h *history.ReplyHistory) (PromptTemplate, error) {
	if !style.Valid() {
		return PromptTemplate{}, fmt.Errorf("%w: %s", ErrInvalidStyle, style)
	}

	t := PromptTemplate{Style: style, MaxOutputChars: s.maxOutputChars}
	if isFirst || h == nil {
		t.Kind = KindFirstReply
		return t, nil
	}

	t.Kind = KindContinuation
	t.Summary = h.Summary
	t.Tail = s.tail(h.Records)
	t.Omitted = len(h.Records) - len(t.Tail)
	return t, nil
}

// tail keeps the newest records that fit the token budget.
func (s *Selector) tail(records []history.ReplyRecord) []string {
	used, start := 0, len(records)
	for i := len(records) - 1; i >= 0; i-- {
		n := s.counter.Count(records[i].Content)
		if used+n > s.maxTokens {
			break
		}
		used += n
		start = i
	}

	out := make([]string, 0, len(records)-start)
	for _, r := range records[start:] {
		out = append(out, r.Content)
	}
	return out
}

const systemPrompt = `You write replies to posts in a friend's social feed (WeChat Moments style).
Reply in the language of the post. Output only the reply text: no quotes, no explanations, no hashtags.
Replies may include emoji or WeChat bracket stickers such as [微笑] and must comply with applicable laws.`

// Render builds the provider prompt for postContent. A zero mood leaves the
// emotion block out.
func (t PromptTemplate) Render(postContent string, mood emotion.Result) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a %s (%s) reply to this post.\n", t.Style, t.Style.Label())
	fmt.Fprintf(&b, "Post: %s\n", strings.TrimSpace(postContent))
	if !mood.IsZero() {
		b.WriteString("Post emotion analysis:\n")
		fmt.Fprintf(&b, "- Emotion type: %s\n", mood.Type)
		fmt.Fprintf(&b, "- Negativity score: %d/10\n", mood.NegativeScore)
		fmt.Fprintf(&b, "- Description: %s\n", mood.Description)
	}
	b.WriteString("\n")

	switch t.Kind {
	case KindFirstReply:
		b.WriteString("This is your first reply to the post.\n")
	case KindContinuation:
		if t.Summary != "" {
			fmt.Fprintf(&b, "Summary of your earlier replies: %s\n", t.Summary)
		}
		if len(t.Tail) > 0 {
			b.WriteString("Your most recent replies, oldest first:\n")
			for i, r := range t.Tail {
				fmt.Fprintf(&b, "%d. %s\n", i+1, r)
			}
		}
		b.WriteString("Stay consistent with what you said before but do not repeat it.\n")
	}

	fmt.Fprintf(&b, "\nTone: %s\n", t.Style.tone())
	switch {
	case mood.Negative():
		b.WriteString("The post is negative: offer appropriate comfort or support.\n")
	case mood.Positive():
		b.WriteString("The post is upbeat: share in the good mood.\n")
	default:
		b.WriteString("If the post sounds sad or negative, respond with appropriate comfort or support.\n")
	}
	fmt.Fprintf(&b, "Keep it within %d characters.", t.MaxOutputChars)

	return Prompt{
		Prompt:         external.Prompt{System: systemPrompt, User: b.String()},
		MaxOutputChars: t.MaxOutputChars,
	}
}
