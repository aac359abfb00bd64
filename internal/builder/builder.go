// Package builder derives reminder records from deadline-bearing entities.
package builder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/model"
)

var (
	ErrInvalidDeadline = errors.New("invalid deadline")
	ErrNoRecipient     = errors.New("no recipient")
	ErrInPast          = errors.New("reminder time is in the past")
)

// MorningHour is the local hour the fixed 7-day and 1-day reminders fire at.
const MorningHour = 8

var deadlineLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

type Builder struct {
	loc *time.Location
	now func() time.Time
}

type Option func(*Builder)

// WithClock overrides the time source used to drop past fire times.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New returns a Builder that interprets deadlines in loc.
func New(loc *time.Location, opts ...Option) *Builder {
	if loc == nil {
		loc = time.Local
	}
	b := &Builder{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Location returns the zone deadlines are interpreted in.
func (b *Builder) Location() *time.Location { return b.loc }

// ParseDeadline parses a date ("2025-06-10"), a local date and time
// ("2025-06-10T18:00") or an RFC 3339 timestamp.
func (b *Builder) ParseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, b.loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidDeadline, s)
}

// ForEntity returns the unsaved reminders for e: the fixed 7-day and 1-day
// morning reminders plus one per rule in guildRules and entityRules. Fire
// times at or before now are dropped. An unparseable deadline or an entity
// with neither a channel nor a user yields no reminders.
func (b *Builder) ForEntity(e model.SourceEntity, guildRules, entityRules []model.OffsetRule) []*model.Reminder {
	deadline, err := b.ParseDeadline(e.Deadline)
	if err != nil {
		return nil
	}
	delivery, ok := destination(e)
	if !ok {
		return nil
	}

	now := b.now()
	var out []*model.Reminder
	add := func(kind string, at time.Time) {
		if !at.After(now) {
			return
		}
		out = append(out, b.record(e, delivery, kind, at))
	}

	add(model.Kind7Days, b.morning(deadline, -7))
	add(model.Kind1DayMorn, b.morning(deadline, -1))

	rules := make([]model.OffsetRule, 0, len(guildRules)+len(entityRules))
	rules = append(rules, guildRules...)
	rules = append(rules, entityRules...)
	for _, rule := range rules {
		if rule.OffsetMs <= 0 {
			continue
		}
		label := rule.Label
		if label == "" {
			label = strconv.FormatInt(rule.OffsetMs, 10)
		}
		add(model.KindCustomPfx+label, deadline.Add(-rule.Duration()))
	}
	return out
}

// ForDM returns a one-off direct message reminder about e for userID at at.
func (b *Builder) ForDM(e model.SourceEntity, userID string, at time.Time) (*model.Reminder, error) {
	if userID == "" {
		return nil, ErrNoRecipient
	}
	if !at.After(b.now()) {
		return nil, fmt.Errorf("%w: %s", ErrInPast, at.Format(time.RFC3339))
	}
	r := b.record(e, model.DeliveryDM, model.KindDMCustom, at)
	r.UserID = userID
	return r, nil
}

// morning returns 08:00 local on the deadline's calendar date shifted by days.
func (b *Builder) morning(deadline time.Time, days int) time.Time {
	d := deadline.In(b.loc)
	return time.Date(d.Year(), d.Month(), d.Day()+days, MorningHour, 0, 0, 0, b.loc)
}

func (b *Builder) record(e model.SourceEntity, delivery model.Delivery, kind string, at time.Time) *model.Reminder {
	e.Normalize()
	r := &model.Reminder{
		Delivery:        delivery,
		GuildID:         e.GuildID,
		SourceChannelID: e.ChannelID,
		SourceEntityID:  e.ID,
		Kind:            kind,
		Title:           e.Title,
		Description:     e.Description,
		Category:        e.Category,
		Importance:      e.Importance,
		Date:            e.Deadline,
		RemindAt:        at,
	}
	if delivery == model.DeliveryDM {
		r.UserID = e.UserID
	}
	return r
}

func destination(e model.SourceEntity) (model.Delivery, bool) {
	switch {
	case e.ChannelID != "":
		return model.DeliveryChannel, true
	case e.UserID != "":
		return model.DeliveryDM, true
	default:
		return "", false
	}
}
