// Package tokens estimates prompt sizes.
//
// Counts are estimates used for budgeting prompt context only; they do not
// need to match any provider's billing exactly. The tiktoken encoder is
// loaded lazily and the package falls back to a character heuristic when the
// encoding cannot be loaded (e.g. offline hosts without a BPE cache).
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Encoding names.
const (
	DefaultEncoding   = "cl100k_base" // BPE used when none is configured
	HeuristicEncoding = "heuristic"   // Character estimate, no BPE download
)

// Counter estimates the token count of text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

// Count calls f.
func (f CounterFunc) Count(text string) int { return f(text) }

// Heuristic estimates tokens from characters: each non-ASCII rune (CJK,
// emoji) counts as one token and ASCII text as one token per four bytes.
func Heuristic(text string) int {
	ascii, other := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	return other + (ascii+3)/4
}

// New returns the counter for encoding.
func New(encoding string) Counter {
	if encoding == HeuristicEncoding {
		return CounterFunc(Heuristic)
	}
	return NewTiktoken(encoding)
}

// Tiktoken counts with a tiktoken encoding.
type Tiktoken struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTiktoken creates a lazily-initialized counter for encoding.
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

// Count returns the encoded length of text, or the heuristic estimate when
// the encoding is unavailable.
func (t *Tiktoken) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			log.Warn().Err(err).Str("encoding", t.encoding).Msg("tiktoken unavailable, using heuristic token counts")
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return Heuristic(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

var (
	_ Counter = (*Tiktoken)(nil)
	_ Counter = CounterFunc(nil)
)
