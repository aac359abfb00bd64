package model

import (
	"strings"
	"time"
)

// SchemaVersion is the version written into the reminders document.
const SchemaVersion = 1

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether a record in status s may move to next.
// Only pending records ever change status.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && (next == StatusSent || next == StatusCancelled)
}

type Delivery string

const (
	DeliveryChannel Delivery = "channel"
	DeliveryDM      Delivery = "dm"
)

const (
	Kind7Days     = "7d"
	Kind1DayMorn  = "1d-morning"
	KindDMCustom  = "dm-custom"
	KindCustomPfx = "custom-"
)

// Derived reports whether kind is built from an entity's deadline and
// timings. Rebuilding the entity recreates these; dm-custom is not.
func Derived(kind string) bool {
	return kind == Kind7Days || kind == Kind1DayMorn || strings.HasPrefix(kind, KindCustomPfx)
}

const (
	DefaultCategory   = "homework"
	DefaultImportance = "normal"
)

// Values written by the French-language bot before the rename.
var (
	legacyCategories  = map[string]string{"devoir": "homework", "examen": "exam", "projet": "project"}
	legacyImportances = map[string]string{"faible": "low", "important": "normal", "tres_important": "high"}
)

// CanonicalCategory maps a stored category, old or new, to its current
// value. Empty maps to the default.
func CanonicalCategory(c string) string {
	if v, ok := legacyCategories[c]; ok {
		return v
	}
	if c == "" {
		return DefaultCategory
	}
	return c
}

// CanonicalImportance is CanonicalCategory for importance levels.
func CanonicalImportance(i string) string {
	if v, ok := legacyImportances[i]; ok {
		return v
	}
	if i == "" {
		return DefaultImportance
	}
	return i
}

type Reminder struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	SentAt          *time.Time `json:"sentAt"`
	Delivery        Delivery   `json:"delivery"`
	GuildID         string     `json:"guildId,omitempty"`
	SourceChannelID string     `json:"sourceChannelId,omitempty"`
	UserID          string     `json:"userId,omitempty"`
	SourceEntityID  string     `json:"sourceEntityId"`
	Kind            string     `json:"kind"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	Importance      string     `json:"importance"`
	Date            string     `json:"date"`
	RemindAt        time.Time  `json:"remindAtISO"`

	// LegacyChannelID and LegacyType are the channel and category fields
	// written by older records.
	LegacyChannelID string `json:"channelId,omitempty"`
	LegacyType      string `json:"type,omitempty"`
}

// IsDue reports whether r is pending and its fire time is at or before now.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Status == StatusPending && !r.RemindAt.After(now)
}

// Clone returns a deep copy of r.
func (r *Reminder) Clone() *Reminder {
	c := *r
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	return &c
}

// Normalize fills in defaults for fields missing from older records.
func (r *Reminder) Normalize() {
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Delivery == "" {
		r.Delivery = DeliveryChannel
	}
	if r.SourceChannelID == "" && r.LegacyChannelID != "" {
		r.SourceChannelID = r.LegacyChannelID
	}
	r.LegacyChannelID = ""
	if r.Category == "" {
		r.Category = r.LegacyType
	}
	r.LegacyType = ""
	r.Category = CanonicalCategory(r.Category)
	r.Importance = CanonicalImportance(r.Importance)
}

type Schema struct {
	Version   int         `json:"version"`
	Reminders []*Reminder `json:"reminders"`
}

// Normalize applies read-time defaults to the document and every record in it.
func (s *Schema) Normalize() {
	if s.Version == 0 {
		s.Version = SchemaVersion
	}
	if s.Reminders == nil {
		s.Reminders = []*Reminder{}
	}
	for _, r := range s.Reminders {
		r.Normalize()
	}
}
