package builder

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/model"
)

var paris = mustLoad("Europe/Paris")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func entity(deadline string) model.SourceEntity {
	return model.SourceEntity{
		ID:          "e1",
		GuildID:     "g1",
		ChannelID:   "c1",
		Deadline:    deadline,
		Title:       "Essay",
		Description: "Chapter 3",
		Importance:  "high",
		Category:    "exam",
	}
}

func TestForEntityDefaultRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))

	got := b.ForEntity(entity("2025-06-10"), nil, nil)
	if len(got) != 2 {
		t.Fatalf("ForEntity() returned %d records, want 2", len(got))
	}

	want := []struct {
		kind string
		at   time.Time
	}{
		{model.Kind7Days, time.Date(2025, 6, 3, 8, 0, 0, 0, paris)},
		{model.Kind1DayMorn, time.Date(2025, 6, 9, 8, 0, 0, 0, paris)},
	}
	for i, w := range want {
		if got[i].Kind != w.kind || !got[i].RemindAt.Equal(w.at) {
			t.Errorf("record %d = %s at %v, want %s at %v", i, got[i].Kind, got[i].RemindAt, w.kind, w.at)
		}
	}

	r := got[0]
	if r.Delivery != model.DeliveryChannel || r.SourceChannelID != "c1" || r.GuildID != "g1" || r.SourceEntityID != "e1" {
		t.Errorf("routing fields not copied: %+v", r)
	}
	if r.Title != "Essay" || r.Description != "Chapter 3" || r.Importance != "high" || r.Category != "exam" || r.Date != "2025-06-10" {
		t.Errorf("display fields not copied: %+v", r)
	}
}

func TestForEntityTenDaysOut(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 30, 0, 0, paris)
	deadline := now.AddDate(0, 0, 10)
	b := New(paris, WithClock(fixed(now)))

	got := b.ForEntity(entity(deadline.Format("2006-01-02")), nil, nil)
	if len(got) != 2 {
		t.Fatalf("ForEntity() returned %d records, want 2", len(got))
	}
	if got[0].Kind != model.Kind7Days || got[0].RemindAt.Hour() != 8 || got[0].RemindAt.Day() != deadline.AddDate(0, 0, -7).Day() {
		t.Errorf("7d record at %v", got[0].RemindAt)
	}
	if got[1].Kind != model.Kind1DayMorn || got[1].RemindAt.Hour() != 8 || got[1].RemindAt.Day() != deadline.AddDate(0, 0, -1).Day() {
		t.Errorf("1d record at %v", got[1].RemindAt)
	}
}

func TestForEntityPinsMorningRegardlessOfTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))

	got := b.ForEntity(entity("2025-06-10T23:45"), nil, nil)
	if len(got) != 2 {
		t.Fatalf("ForEntity() returned %d records", len(got))
	}
	want := time.Date(2025, 6, 9, 8, 0, 0, 0, paris)
	if !got[1].RemindAt.Equal(want) {
		t.Errorf("1d record at %v, want %v", got[1].RemindAt, want)
	}
}

func TestForEntityCustomRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))
	deadline := time.Date(2025, 6, 10, 0, 0, 0, 0, paris)

	guild := []model.OffsetRule{{Label: "3 days", OffsetMs: (72 * time.Hour).Milliseconds()}}
	own := []model.OffsetRule{
		{Label: "", OffsetMs: (2 * time.Hour).Milliseconds()},
		{Label: "too early", OffsetMs: (30 * 24 * time.Hour).Milliseconds()},
		{Label: "zero", OffsetMs: 0},
	}

	got := b.ForEntity(entity("2025-06-10"), guild, own)
	if len(got) != 4 {
		t.Fatalf("ForEntity() returned %d records, want 4", len(got))
	}

	byKind := map[string]time.Time{}
	for _, r := range got {
		byKind[r.Kind] = r.RemindAt
	}
	if at, ok := byKind["custom-3 days"]; !ok || !at.Equal(deadline.Add(-72*time.Hour)) {
		t.Errorf("custom-3 days at %v (present %v)", at, ok)
	}
	if at, ok := byKind["custom-7200000"]; !ok || !at.Equal(deadline.Add(-2*time.Hour)) {
		t.Errorf("unlabelled rule at %v (present %v)", at, ok)
	}
	if _, ok := byKind["custom-too early"]; ok {
		t.Error("rule firing before now was emitted")
	}
}

func TestForEntityNeverEmitsPast(t *testing.T) {
	now := time.Date(2025, 6, 8, 9, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))
	rules := []model.OffsetRule{
		{Label: "1h", OffsetMs: time.Hour.Milliseconds()},
		{Label: "3j", OffsetMs: (72 * time.Hour).Milliseconds()},
	}

	for _, r := range b.ForEntity(entity("2025-06-10"), rules, nil) {
		if !r.RemindAt.After(now) {
			t.Errorf("record %s fires at %v, not after now %v", r.Kind, r.RemindAt, now)
		}
	}
}

func TestForEntityHugeOffset(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))
	rules := []model.OffsetRule{{Label: "forever", OffsetMs: math.MaxInt64}}

	got := b.ForEntity(entity("2025-06-10"), rules, nil)
	if len(got) != 2 {
		t.Fatalf("got %d reminders, want only 7d and 1d-morning", len(got))
	}
	for _, r := range got {
		if r.Kind == model.KindCustomPfx+"forever" {
			t.Errorf("overflowing offset produced %s at %v", r.Kind, r.RemindAt)
		}
	}
}

func TestForEntityEmpty(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))

	noDest := entity("2025-06-10")
	noDest.ChannelID = ""

	tests := []struct {
		name string
		e    model.SourceEntity
	}{
		{"invalid deadline", entity("2025-13-45")},
		{"garbage deadline", entity("next tuesday")},
		{"no destination", noDest},
		{"deadline passed", entity("2025-05-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.ForEntity(tt.e, nil, nil); len(got) != 0 {
				t.Errorf("ForEntity() returned %d records, want none", len(got))
			}
		})
	}
}

func TestForEntityUserOnly(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))

	e := entity("2025-06-10")
	e.ChannelID = ""
	e.GuildID = ""
	e.UserID = "u1"

	got := b.ForEntity(e, nil, nil)
	if len(got) != 2 {
		t.Fatalf("ForEntity() returned %d records, want 2", len(got))
	}
	if got[0].Delivery != model.DeliveryDM || got[0].UserID != "u1" {
		t.Errorf("user-only entity record = %+v, want dm delivery to u1", got[0])
	}
}

func TestForDM(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, paris)
	b := New(paris, WithClock(fixed(now)))
	e := entity("2025-06-10")

	at := time.Date(2025, 6, 5, 18, 30, 0, 0, paris)
	r, err := b.ForDM(e, "u7", at)
	if err != nil {
		t.Fatalf("ForDM() error = %v", err)
	}
	if r.Kind != model.KindDMCustom || r.Delivery != model.DeliveryDM || r.UserID != "u7" || !r.RemindAt.Equal(at) {
		t.Errorf("ForDM() = %+v", r)
	}

	if _, err := b.ForDM(e, "u7", now); !errors.Is(err, ErrInPast) {
		t.Errorf("ForDM(now) error = %v, want ErrInPast", err)
	}
	if _, err := b.ForDM(e, "", at); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("ForDM(no user) error = %v, want ErrNoRecipient", err)
	}
}

func TestParseDeadline(t *testing.T) {
	b := New(paris)
	for _, s := range []string{"2025-06-10", "2025-06-10T18:00", "2025-06-10T18:00:00", "2025-06-10T18:00:00+02:00"} {
		if _, err := b.ParseDeadline(s); err != nil {
			t.Errorf("ParseDeadline(%q) error = %v", s, err)
		}
	}
	if _, err := b.ParseDeadline("10/06/2025"); !errors.Is(err, ErrInvalidDeadline) {
		t.Errorf("ParseDeadline(10/06/2025) error = %v, want ErrInvalidDeadline", err)
	}
}
