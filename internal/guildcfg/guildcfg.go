// Package guildcfg stores per-guild reminder settings: the mention role,
// the reminder channel override and guild-wide custom timings.
//
// The file is read on every call so edits made by another writer are seen
// immediately; there is no cache to invalidate.
package guildcfg

import (
	"fmt"
	"sync"

	"github.com/noahxzhu/devoir-reminders/internal/jsonfile"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

type Store struct {
	mu       sync.Mutex
	filePath string
}

func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

func (s *Store) read() (map[string]*model.GuildSettings, error) {
	all := map[string]*model.GuildSettings{}
	if _, err := jsonfile.Read(s.filePath, &all); err != nil {
		return nil, err
	}
	if all == nil {
		all = map[string]*model.GuildSettings{}
	}
	return all, nil
}

// Guild returns the settings for guildID, or zero settings if none are stored.
func (s *Store) Guild(guildID string) (model.GuildSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return model.GuildSettings{}, err
	}
	g, ok := all[guildID]
	if !ok || g == nil {
		return model.GuildSettings{CustomTimings: []model.OffsetRule{}}, nil
	}
	if g.CustomTimings == nil {
		g.CustomTimings = []model.OffsetRule{}
	}
	return *g, nil
}

func (s *Store) update(guildID string, fn func(g *model.GuildSettings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	g, ok := all[guildID]
	if !ok || g == nil {
		g = &model.GuildSettings{}
		all[guildID] = g
	}
	if g.CustomTimings == nil {
		g.CustomTimings = []model.OffsetRule{}
	}
	if err := fn(g); err != nil {
		return err
	}
	return jsonfile.Write(s.filePath, all)
}

// SetReminderChannel sets the channel reminders are posted to. An empty id
// clears the override so each reminder falls back to its source channel.
func (s *Store) SetReminderChannel(guildID, channelID string) error {
	return s.update(guildID, func(g *model.GuildSettings) error {
		g.ReminderChannelID = channelID
		return nil
	})
}

// SetRole sets the role mentioned by channel reminders. Empty means @everyone.
func (s *Store) SetRole(guildID, roleID string) error {
	return s.update(guildID, func(g *model.GuildSettings) error {
		g.RoleID = roleID
		return nil
	})
}

func (s *Store) AddTiming(guildID string, rule model.OffsetRule) error {
	if rule.OffsetMs <= 0 {
		return fmt.Errorf("timing %q must be positive", rule.Label)
	}
	return s.update(guildID, func(g *model.GuildSettings) error {
		g.CustomTimings = append(g.CustomTimings, rule)
		return nil
	})
}

// RemoveTiming removes the timing at the zero-based index and returns it.
func (s *Store) RemoveTiming(guildID string, index int) (model.OffsetRule, error) {
	var removed model.OffsetRule
	err := s.update(guildID, func(g *model.GuildSettings) error {
		if index < 0 || index >= len(g.CustomTimings) {
			return fmt.Errorf("no timing at index %d", index)
		}
		removed = g.CustomTimings[index]
		g.CustomTimings = append(g.CustomTimings[:index], g.CustomTimings[index+1:]...)
		return nil
	})
	return removed, err
}
