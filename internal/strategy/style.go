// Package strategy selects the prompt used to generate a reply.
//
// Choose is a pure function of (style, first-reply status, history). First
// replies see only the post; continuations also see the history summary and
// as much of the literal tail as fits the token budget, newest first.
package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStyle is returned for style values outside the closed set.
var ErrInvalidStyle = errors.New("strategy: invalid reply style")

// Style is the requested tone of a reply.
type Style int

const (
	StyleHumorous Style = iota + 1
	StyleSerious
	StyleAmbiguous
	StyleWarm
	StyleCritical
)

var styleNames = map[string]Style{
	"humorous":  StyleHumorous,
	"serious":   StyleSerious,
	"ambiguous": StyleAmbiguous,
	"warm":      StyleWarm,
	"critical":  StyleCritical,
	"幽默":        StyleHumorous,
	"严肃":        StyleSerious,
	"暧昧":        StyleAmbiguous,
	"温馨":        StyleWarm,
	"批评":        StyleCritical,
}

// Styles lists every valid style.
func Styles() []Style {
	return []Style{StyleHumorous, StyleSerious, StyleAmbiguous, StyleWarm, StyleCritical}
}

// ParseStyle maps a case-insensitive English name or its Chinese label to a
// Style.
func ParseStyle(s string) (Style, error) {
	if style, ok := styleNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return style, nil
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", ErrInvalidStyle, s, strings.Join(names(), ", "))
}

// Valid reports whether s is a member of the closed set.
func (s Style) Valid() bool {
	return s >= StyleHumorous && s <= StyleCritical
}

func (s Style) String() string {
	switch s {
	case StyleHumorous:
		return "humorous"
	case StyleSerious:
		return "serious"
	case StyleAmbiguous:
		return "ambiguous"
	case StyleWarm:
		return "warm"
	case StyleCritical:
		return "critical"
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// Label is the Chinese name used by feed clients.
func (s Style) Label() string {
	switch s {
	case StyleHumorous:
		return "幽默"
	case StyleSerious:
		return "严肃"
	case StyleAmbiguous:
		return "暧昧"
	case StyleWarm:
		return "温馨"
	case StyleCritical:
		return "批评"
	}
	return ""
}

// MarshalText encodes the English name.
func (s Style) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStyle, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts anything ParseStyle does.
func (s *Style) UnmarshalText(b []byte) error {
	v, err := ParseStyle(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Style) tone() string {
	switch s {
	case StyleHumorous:
		return "Playful and witty. A light joke or pun is welcome; never mock the author."
	case StyleSerious:
		return "Sincere and measured. Engage with the substance of the post, no jokes."
	case StyleAmbiguous:
		return "Flirtatious and a little teasing, leaving room for interpretation while staying respectful."
	case StyleWarm:
		return "Kind and supportive, like a close friend. Offer comfort if the post sounds low."
	case StyleCritical:
		return "Constructively critical. Point out a flaw or a different angle politely, without insults."
	}
	return ""
}

func names() []string {
	out := make([]string, 0, len(Styles()))
	for _, s := range Styles() {
		out = append(out, s.String())
	}
	return out
}
