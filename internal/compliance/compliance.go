// Package compliance post-processes generated replies.
//
// Enforce runs on every generation result before it becomes a record: it
// strips model artifacts, rejects empty or disallowed text and truncates to
// the character limit without splitting a grapheme cluster or a bracketed
// sticker token such as [微笑]. Lengths are measured in Unicode code points.
package compliance

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// DefaultMaxChars is the reply length limit.
const DefaultMaxChars = 50

// ErrContentRejected marks text that must not be stored or returned.
var ErrContentRejected = errors.New("compliance: content rejected")

// Built-in policy, extended by Config.
var (
	defaultBlockedTerms = []string{
		"赌博", "博彩", "色情", "毒品", "代开发票", "办证",
		"fuck", "shit",
	}
	defaultBlockedPatterns = []string{
		`(?i)https?://\S+`, // links
		`1[3-9]\d{9}`,      // mainland mobile numbers
		`(?i)\bv[x信]\s*[:：]?\s*[a-z0-9_-]{5,}`,
	}
)

// stickerToken matches WeChat-style bracket emoji.
var stickerToken = regexp.MustCompile(`\[[^\[\]\s]{1,8}\]`)

// quotePairs are wrappers models put around the whole reply.
var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
	{"‘", "’"},
	{"「", "」"},
	{"『", "』"},
}

// replyPrefixes are labels models prepend to the reply.
var replyPrefixes = []string{"回复：", "回复:", "Reply:", "reply:"}

// Config holds the content policy.
type Config struct {
	MaxChars        int      `yaml:"max_chars"`
	BlockedTerms    []string `yaml:"blocked_terms"`    // Case-insensitive substrings
	BlockedPatterns []string `yaml:"blocked_patterns"` // Go regular expressions
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxChars == 0 {
		c.MaxChars = DefaultMaxChars
	}
	return c
}

// Validate checks limits and that every pattern compiles.
func (c Config) Validate() error {
	if c.MaxChars < 1 {
		return fmt.Errorf("compliance.max_chars must be positive")
	}
	for _, p := range c.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("compliance.blocked_patterns: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// Filter enforces a compiled Config.
type Filter struct {
	maxChars int
	terms    []string
	patterns []*regexp.Regexp
}

// NewFilter compiles cfg on top of the built-in policy.
func NewFilter(cfg Config) (*Filter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Filter{maxChars: cfg.MaxChars}
	for _, t := range append(append([]string(nil), defaultBlockedTerms...), cfg.BlockedTerms...) {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			f.terms = append(f.terms, t)
		}
	}
	for _, p := range append(append([]string(nil), defaultBlockedPatterns...), cfg.BlockedPatterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// MaxChars returns the enforced limit.
func (f *Filter) MaxChars() int {
	return f.maxChars
}

// Enforce returns the compliant form of raw or an error wrapping
// ErrContentRejected.
func (f *Filter) Enforce(raw string) (string, error) {
	text := clean(raw)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrContentRejected)
	}

	lower := strings.ToLower(text)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return "", fmt.Errorf("%w: blocked term %q", ErrContentRejected, t)
		}
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return "", fmt.Errorf("%w: matches blocked pattern %q", ErrContentRejected, re.String())
		}
	}

	text = Truncate(text, f.maxChars)
	if text == "" {
		return "", fmt.Errorf("%w: nothing left after truncation", ErrContentRejected)
	}
	return text, nil
}

// clean trims whitespace, reply labels and one layer of wrapping quotes.
func clean(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range replyPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			break
		}
	}
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
			break
		}
	}
	return s
}

// Truncate returns the longest prefix of s within limit code points that
// ends on a grapheme and sticker-token boundary, with trailing whitespace
// removed.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	end, used := 0, 0
	for _, unit := range units(s) {
		n := utf8.RuneCountInString(unit)
		if used+n > limit {
			break
		}
		used += n
		end += len(unit)
	}
	return strings.TrimRightFunc(s[:end], isSpace)
}

// units splits s into sticker tokens and grapheme clusters, in order.
func units(s string) []string {
	var out []string
	pos := 0
	for _, loc := range stickerToken.FindAllStringIndex(s, -1) {
		out = appendGraphemes(out, s[pos:loc[0]])
		out = append(out, s[loc[0]:loc[1]])
		pos = loc[1]
	}
	return appendGraphemes(out, s[pos:])
}

func appendGraphemes(out []string, s string) []string {
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　'
}
