// Package reminders rebuilds and cancels the persisted reminders of source
// entities. A rebuild always cancels every pending reminder of the entity
// and builds a fresh batch; old and new rule sets are never diffed.
package reminders

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/builder"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

type Store interface {
	AddOne(r *model.Reminder) (*model.Reminder, error)
	AddMany(rs []*model.Reminder) ([]*model.Reminder, error)
	CancelBySource(sourceEntityID string) (int, error)
	CancelBySourceKinds(sourceEntityID string, match func(kind string) bool) (int, error)
}

type Guilds interface {
	Guild(guildID string) (model.GuildSettings, error)
}

type Service struct {
	store    Store
	guilds   Guilds
	builder  *builder.Builder
	logger   *slog.Logger
	onChange func()
}

func NewService(store Store, guilds Guilds, b *builder.Builder, logger *slog.Logger) *Service {
	return &Service{store: store, guilds: guilds, builder: b, logger: logger}
}

// SetOnChange sets a callback run after reminders were added, typically the
// worker's Refresh.
func (s *Service) SetOnChange(fn func()) {
	s.onChange = fn
}

func (s *Service) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// ParseDeadline validates a deadline the way the builder will read it.
func (s *Service) ParseDeadline(v string) (time.Time, error) {
	return s.builder.ParseDeadline(v)
}

// Rebuild replaces the pending deadline reminders of e and returns the new ones.
func (s *Service) Rebuild(e model.SourceEntity) ([]*model.Reminder, error) {
	created, err := s.rebuild(e)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		s.changed()
	}
	return created, nil
}

func (s *Service) rebuild(e model.SourceEntity) ([]*model.Reminder, error) {
	var guild model.GuildSettings
	if e.GuildID != "" {
		g, err := s.guilds.Guild(e.GuildID)
		if err != nil {
			return nil, fmt.Errorf("read guild settings %s: %w", e.GuildID, err)
		}
		guild = g
	}

	// One-off DM reminders cannot be rebuilt from e and stay scheduled.
	cancelled, err := s.store.CancelBySourceKinds(e.ID, model.Derived)
	if err != nil {
		return nil, err
	}

	batch := s.builder.ForEntity(e, guild.CustomTimings, e.CustomTimings)
	var created []*model.Reminder
	if len(batch) > 0 {
		created, err = s.store.AddMany(batch)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("Reminders rebuilt", "entity_id", e.ID, "title", e.Title, "cancelled", cancelled, "created", len(created))
	return created, nil
}

// Cancel stops every pending reminder of the entity and returns how many.
func (s *Service) Cancel(entityID string) (int, error) {
	n, err := s.store.CancelBySource(entityID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Reminders cancelled", "entity_id", entityID, "count", n)
	return n, nil
}

// RebuildAll rebuilds every entity, typically at startup. Failures are
// logged and the remaining entities still rebuild.
func (s *Service) RebuildAll(entities []model.SourceEntity) int {
	var total, failed int
	for _, e := range entities {
		created, err := s.rebuild(e)
		if err != nil {
			failed++
			s.logger.Error("Failed to rebuild reminders", "entity_id", e.ID, "error", err)
			continue
		}
		total += len(created)
	}
	s.logger.Info("Reminder rebuild complete", "entities", len(entities), "created", total, "failed", failed)
	if total > 0 {
		s.changed()
	}
	return total
}

// ScheduleDM persists a one-off direct message reminder about e.
func (s *Service) ScheduleDM(e model.SourceEntity, userID string, at time.Time) (*model.Reminder, error) {
	r, err := s.builder.ForDM(e, userID, at)
	if err != nil {
		return nil, err
	}
	created, err := s.store.AddOne(r)
	if err != nil {
		return nil, err
	}
	s.logger.Info("DM reminder scheduled", "entity_id", e.ID, "user_id", userID, "at", at.Format(time.RFC3339))
	s.changed()
	return created, nil
}
