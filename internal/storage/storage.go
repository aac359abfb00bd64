// Package storage persists reminder records. Two backends share the same
// semantics: a whole-document JSON file and a bbolt database.
//
// Both assume a single process owns the data. Running several bot
// instances against the same file or database is not supported.
package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

const (
	DriverJSON = "json"
	DriverBolt = "bolt"
)

// Backend is the reminder record store.
type Backend interface {
	AddOne(r *model.Reminder) (*model.Reminder, error)
	AddMany(rs []*model.Reminder) ([]*model.Reminder, error)
	MarkSent(id string) (bool, error)
	CancelBySource(sourceEntityID string) (int, error)
	CancelBySourceKinds(sourceEntityID string, match func(kind string) bool) (int, error)
	DuePending(now time.Time) ([]*model.Reminder, error)
	CleanupOld(retention time.Duration) (int, error)
	Get(id string) (*model.Reminder, bool, error)
	List() ([]*model.Reminder, error)
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the time source used for createdAt, sentAt and
// retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open returns the backend selected by driver.
func Open(driver, path string, opts ...Option) (Backend, error) {
	switch driver {
	case "", DriverJSON:
		s := NewStore(path, opts...)
		if err := s.Load(); err != nil {
			return nil, err
		}
		return s, nil
	case DriverBolt:
		return OpenBolt(path, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// prepare stamps a new record with an id and the pending state.
func (o options) prepare(r *model.Reminder, now time.Time) *model.Reminder {
	c := r.Clone()
	c.ID = o.newID()
	c.Status = model.StatusPending
	c.CreatedAt = now
	c.SentAt = nil
	c.Normalize()
	return c
}

// expired reports whether a finished record is older than cutoff. Pending
// records never expire.
func expired(r *model.Reminder, cutoff time.Time) bool {
	if r.Status != model.StatusSent && r.Status != model.StatusCancelled {
		return false
	}
	at := r.CreatedAt
	if r.SentAt != nil {
		at = *r.SentAt
	}
	if at.IsZero() {
		return false
	}
	return at.Before(cutoff)
}

func kindMatches(match func(kind string) bool, kind string) bool {
	return match == nil || match(kind)
}
