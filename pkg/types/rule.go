// Rule entity: one keyword-to-sound binding inside a channel.
package types

import (
	"fmt"
	"strings"
	"time"
)

// FieldDelimiter is reserved by the flat-file layout and may not appear
// inside any persisted text field.
const FieldDelimiter = "\x1f"

// MaxFieldLen is the largest persisted text field, in bytes. Backends size
// their line readers from it.
const MaxFieldLen = 64 * 1024

// DefaultTemplateSize is the number of placeholder rows written to an empty
// channel by EnsureInitialized.
const DefaultTemplateSize = 10

// notAvailable is shown for blank values in display projections.
const notAvailable = "N/A"

// Rule is a persisted entry binding a channel, an order, a keyword, a sound
// designator and an enabled flag.
type Rule struct {
	// ID is a UUID v7 assigned by the store; empty means not yet persisted.
	ID string `json:"id,omitempty"`

	// ChannelID names the notification channel the rule applies to.
	ChannelID string `json:"channel_id"`

	// Order is the 0-based evaluation and display position within the channel.
	Order int `json:"order"`

	// SearchText is the keyword matched case-insensitively against the
	// event title and body. Blank text never matches.
	SearchText string `json:"search_text"`

	// Sound references the output sound resource; empty means platform default.
	Sound string `json:"sound,omitempty"`

	// Enabled rules are the only ones the matcher evaluates.
	Enabled bool `json:"enabled"`

	// Priority is informational; first match by Order wins.
	Priority int `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsBlank reports whether the rule has no usable search text.
func (r Rule) IsBlank() bool {
	return strings.TrimSpace(r.SearchText) == ""
}

// Matchable reports whether the matcher may consider the rule at all.
func (r Rule) Matchable() bool {
	return r.Enabled && !r.IsBlank()
}

// Validate checks the rule before it is persisted. Blank search text is
// accepted only on disabled rules.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ChannelID) == "" {
		return &ValidationError{Field: "channel_id", Reason: "must not be blank"}
	}
	if r.Order < 0 {
		return &ValidationError{Field: "order", Reason: fmt.Sprintf("must not be negative, got %d", r.Order)}
	}
	if r.Enabled && r.IsBlank() {
		return &ValidationError{Field: "search_text", Reason: "must not be blank on an enabled rule"}
	}
	fields := []struct{ name, value string }{
		{"id", r.ID},
		{"channel_id", r.ChannelID},
		{"search_text", r.SearchText},
		{"sound", r.Sound},
	}
	for _, f := range fields {
		if strings.ContainsAny(f.value, FieldDelimiter+"\n\r") {
			return &ValidationError{Field: f.name, Reason: "contains a reserved character"}
		}
		if len(f.value) > MaxFieldLen {
			return &ValidationError{Field: f.name, Reason: fmt.Sprintf("longer than %d bytes", MaxFieldLen)}
		}
	}
	return nil
}

// DisplayItem is the list-screen projection of a rule.
type DisplayItem struct {
	SearchText string `json:"search_text"`
	Sound      string `json:"sound"`
	Enabled    bool   `json:"enabled"`
}

// Display returns the rule as shown in a rule list, with blank values
// replaced by "N/A".
func (r Rule) Display() DisplayItem {
	item := DisplayItem{SearchText: r.SearchText, Sound: r.Sound, Enabled: r.Enabled}
	if item.SearchText == "" {
		item.SearchText = notAvailable
	}
	if item.Sound == "" {
		item.Sound = notAvailable
	}
	return item
}

// TemplateRules returns n disabled placeholder rows for channelID, ordered
// 0..n-1 with search text "slot1".."slotN" and the given default sound.
func TemplateRules(channelID string, n int, defaultSound string) []Rule {
	rows := make([]Rule, n)
	for i := range rows {
		rows[i] = Rule{
			ChannelID:  channelID,
			Order:      i,
			SearchText: fmt.Sprintf("slot%d", i+1),
			Sound:      defaultSound,
			Enabled:    false,
		}
	}
	return rows
}
