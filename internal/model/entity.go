package model

import (
	"math"
	"time"
)

// OffsetRule is a named duration subtracted from a deadline.
type OffsetRule struct {
	Label    string `json:"label"`
	OffsetMs int64  `json:"offsetMs"`
}

const maxOffsetMs = math.MaxInt64 / int64(time.Millisecond)

// Duration converts the offset, saturating instead of overflowing for
// values a time.Duration cannot hold.
func (o OffsetRule) Duration() time.Duration {
	switch {
	case o.OffsetMs > maxOffsetMs:
		return math.MaxInt64
	case o.OffsetMs < -maxOffsetMs:
		return -math.MaxInt64
	}
	return time.Duration(o.OffsetMs) * time.Millisecond
}

// RuleFor builds an OffsetRule from a parsed duration.
func RuleFor(label string, d time.Duration) OffsetRule {
	return OffsetRule{Label: label, OffsetMs: d.Milliseconds()}
}

// SourceEntity is a deadline-bearing item (homework, exam, event) that
// reminders are derived from.
type SourceEntity struct {
	ID            string       `json:"id"`
	GuildID       string       `json:"guildId,omitempty"`
	ChannelID     string       `json:"channelId,omitempty"`
	UserID        string       `json:"userId,omitempty"`
	Deadline      string       `json:"date"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Importance    string       `json:"importance,omitempty"`
	Category      string       `json:"category,omitempty"`
	CustomTimings []OffsetRule `json:"customTimings,omitempty"`

	LegacyType string `json:"type,omitempty"`
}

// Normalize fills in defaults for fields missing from older entities.
func (e *SourceEntity) Normalize() {
	if e.Category == "" {
		e.Category = e.LegacyType
	}
	e.LegacyType = ""
	e.Category = CanonicalCategory(e.Category)
	e.Importance = CanonicalImportance(e.Importance)
	if e.CustomTimings == nil {
		e.CustomTimings = []OffsetRule{}
	}
}

// GuildSettings holds the reminder configuration of one guild.
type GuildSettings struct {
	RoleID            string       `json:"roleId,omitempty"`
	ReminderChannelID string       `json:"reminderChannelId,omitempty"`
	CustomTimings     []OffsetRule `json:"customTimings"`
}
