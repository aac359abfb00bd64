package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/jsonfile"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

// Store keeps the reminders document in memory and rewrites the whole file
// on every mutation. A mutation works on a copy that only replaces the
// in-memory state once the file has been written.
type Store struct {
	mu       sync.RWMutex
	filePath string
	data     *model.Schema
	opts     options
}

func NewStore(filePath string, opts ...Option) *Store {
	return &Store{
		filePath: filePath,
		data:     &model.Schema{Version: model.SchemaVersion, Reminders: []*model.Reminder{}},
		opts:     buildOptions(opts),
	}
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw json.RawMessage
	ok, err := jsonfile.Read(s.filePath, &raw)
	if err != nil {
		return err
	}
	if !ok {
		s.data = &model.Schema{Version: model.SchemaVersion, Reminders: []*model.Reminder{}}
		return nil
	}

	var doc model.Schema
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Older files hold a bare array of records.
		var legacy []*model.Reminder
		if err2 := json.Unmarshal(raw, &legacy); err2 != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
		doc = model.Schema{Reminders: legacy}
	}
	doc.Normalize()
	s.data = &doc
	return nil
}

// mutate applies fn to a copy of the records and persists the result. fn
// returns the new record set and whether anything changed.
func (s *Store) mutate(fn func(now time.Time, recs []*model.Reminder) ([]*model.Reminder, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*model.Reminder, len(s.data.Reminders))
	for i, r := range s.data.Reminders {
		recs[i] = r.Clone()
	}

	next, changed := fn(s.opts.now(), recs)
	if !changed {
		return nil
	}

	doc := &model.Schema{Version: model.SchemaVersion, Reminders: next}
	if err := jsonfile.Write(s.filePath, doc); err != nil {
		return err
	}
	s.data = doc
	return nil
}

func (s *Store) AddOne(r *model.Reminder) (*model.Reminder, error) {
	created, err := s.AddMany([]*model.Reminder{r})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *Store) AddMany(rs []*model.Reminder) ([]*model.Reminder, error) {
	var created []*model.Reminder
	err := s.mutate(func(now time.Time, recs []*model.Reminder) ([]*model.Reminder, bool) {
		created = make([]*model.Reminder, 0, len(rs))
		for _, r := range rs {
			c := s.opts.prepare(r, now)
			recs = append(recs, c)
			created = append(created, c.Clone())
		}
		return recs, len(rs) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("add reminders: %w", err)
	}
	return created, nil
}

func (s *Store) MarkSent(id string) (bool, error) {
	var marked bool
	err := s.mutate(func(now time.Time, recs []*model.Reminder) ([]*model.Reminder, bool) {
		for _, r := range recs {
			if r.ID != id {
				continue
			}
			if !r.Status.CanTransition(model.StatusSent) {
				return recs, false
			}
			r.Status = model.StatusSent
			r.SentAt = &now
			marked = true
			return recs, true
		}
		return recs, false
	})
	if err != nil {
		return false, fmt.Errorf("mark sent %s: %w", id, err)
	}
	return marked, nil
}

func (s *Store) CancelBySource(sourceEntityID string) (int, error) {
	return s.CancelBySourceKinds(sourceEntityID, nil)
}

// CancelBySourceKinds cancels the pending reminders of the entity whose kind
// satisfies match. A nil match cancels every kind.
func (s *Store) CancelBySourceKinds(sourceEntityID string, match func(kind string) bool) (int, error) {
	var count int
	err := s.mutate(func(now time.Time, recs []*model.Reminder) ([]*model.Reminder, bool) {
		for _, r := range recs {
			if r.SourceEntityID == sourceEntityID && kindMatches(match, r.Kind) && r.Status.CanTransition(model.StatusCancelled) {
				r.Status = model.StatusCancelled
				r.SentAt = &now
				count++
			}
		}
		return recs, count > 0
	})
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for %s: %w", sourceEntityID, err)
	}
	return count, nil
}

func (s *Store) CleanupOld(retention time.Duration) (int, error) {
	var removed int
	err := s.mutate(func(now time.Time, recs []*model.Reminder) ([]*model.Reminder, bool) {
		cutoff := now.Add(-retention)
		kept := recs[:0]
		for _, r := range recs {
			if expired(r, cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		return kept, removed > 0
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup reminders: %w", err)
	}
	return removed, nil
}

func (s *Store) DuePending(now time.Time) ([]*model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Reminder
	for _, r := range s.data.Reminders {
		if r.IsDue(now) {
			due = append(due, r.Clone())
		}
	}
	return due, nil
}

func (s *Store) Get(id string) (*model.Reminder, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.data.Reminders {
		if r.ID == id {
			return r.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) List() ([]*model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Reminder, len(s.data.Reminders))
	for i, r := range s.data.Reminders {
		result[i] = r.Clone()
	}
	return result, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *Store) Close() error { return nil }

var _ Backend = (*Store)(nil)
