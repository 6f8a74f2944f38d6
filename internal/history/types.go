// Package history owns the per-(user, post) reply history.
//
// DESIGN: One JSON blob per ConversationKey in a store.Backend. Appends run
// inside a per-key critical section (read, mutate, write) so concurrent
// replies to the same post never lose updates; different keys proceed
// independently.
//
// SUMMARIZATION: When the literal record count exceeds MaxRecords, the oldest
// records beyond the most recent KeepRecent are folded into the Summary by
// the generator and dropped. A failed summary never blocks the append; it is
// retried on the next one.
package history

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Defaults for Config.
const (
	DefaultMaxRecords      = 20
	DefaultSummaryMaxChars = 300
)

var (
	// ErrSummarizationFailed is non-fatal: it is logged and counted, never
	// returned from Append.
	ErrSummarizationFailed = errors.New("history: summarization failed")

	// ErrInvalidKey is returned for keys with an empty component.
	ErrInvalidKey = errors.New("history: invalid conversation key")
)

// ConversationKey identifies one reply thread.
type ConversationKey struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
}

// NewConversationKey builds a validated key.
func NewConversationKey(userID, postID string) (ConversationKey, error) {
	k := ConversationKey{UserID: userID, PostID: postID}
	return k, k.Validate()
}

// Validate reports whether both components are present.
func (k ConversationKey) Validate() error {
	switch {
	case k.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidKey)
	case k.PostID == "":
		return fmt.Errorf("%w: post_id is required", ErrInvalidKey)
	}
	return nil
}

// StorageKey is the backend key. Components are escaped so ids containing
// the separator cannot collide.
func (k ConversationKey) StorageKey() string {
	return "reply:history:" + url.QueryEscape(k.UserID) + ":" + url.QueryEscape(k.PostID)
}

func (k ConversationKey) String() string {
	return k.UserID + "/" + k.PostID
}

// ReplyRecord is one generated, compliance-checked reply.
type ReplyRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFirst   bool      `json:"is_first"`
}

// ReplyHistory is the ordered, possibly summarized record of all replies for
// one key. Records are oldest first.
type ReplyHistory struct {
	Records         []ReplyRecord `json:"records"`
	Summary         string        `json:"summary,omitempty"`
	TotalCount      int           `json:"total_count"`
	SummarizedCount int           `json:"summarized_count"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsEmpty reports whether no literal records are held.
func (h *ReplyHistory) IsEmpty() bool {
	return len(h.Records) == 0
}

// Last returns the newest record.
func (h *ReplyHistory) Last() (ReplyRecord, bool) {
	if len(h.Records) == 0 {
		return ReplyRecord{}, false
	}
	return h.Records[len(h.Records)-1], true
}

// Contents returns the literal record texts, oldest first.
func (h *ReplyHistory) Contents() []string {
	out := make([]string, len(h.Records))
	for i, r := range h.Records {
		out[i] = r.Content
	}
	return out
}

// Clone returns a deep copy.
func (h *ReplyHistory) Clone() *ReplyHistory {
	c := *h
	c.Records = make([]ReplyRecord, len(h.Records))
	copy(c.Records, h.Records)
	return &c
}

// NextTimestamp returns now, or a value just after the newest record when the
// clock has not advanced, so timestamps strictly increase within a history.
func (h *ReplyHistory) NextTimestamp(now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if last, ok := h.Last(); ok && !now.After(last.Timestamp) {
		return last.Timestamp.Add(time.Microsecond)
	}
	return now
}

// Config holds the retention and summarization policy.
type Config struct {
	MaxRecords      int `yaml:"max_records"`       // Literal records allowed before collapsing
	KeepRecent      int `yaml:"keep_recent"`       // Records kept literal after collapsing
	SummaryMaxChars int `yaml:"summary_max_chars"` // Output budget for the summary
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxRecords == 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.KeepRecent == 0 {
		c.KeepRecent = c.MaxRecords
	}
	if c.SummaryMaxChars == 0 {
		c.SummaryMaxChars = DefaultSummaryMaxChars
	}
	return c
}

// Validate checks the policy after defaults are applied.
func (c Config) Validate() error {
	if c.MaxRecords < 1 {
		return fmt.Errorf("history.max_records must be positive")
	}
	if c.KeepRecent < 1 || c.KeepRecent > c.MaxRecords {
		return fmt.Errorf("history.keep_recent must be between 1 and max_records (%d)", c.MaxRecords)
	}
	if c.SummaryMaxChars < 1 {
		return fmt.Errorf("history.summary_max_chars must be positive")
	}
	return nil
}
