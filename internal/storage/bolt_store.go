package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/model"
	"go.etcd.io/bbolt"
)

var (
	remindersBucket = []byte("reminders")
	metaBucket      = []byte("meta")
	versionKey      = []byte("version")
)

// BoltStore keeps one JSON-encoded record per key in a bbolt bucket. Every
// operation runs in a single transaction.
type BoltStore struct {
	db   *bbolt.DB
	opts options
}

func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(remindersBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if meta.Get(versionKey) == nil {
			return meta.Put(versionKey, []byte(strconv.Itoa(model.SchemaVersion)))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &BoltStore{db: db, opts: buildOptions(opts)}, nil
}

func put(b *bbolt.Bucket, r *model.Reminder) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reminder %s: %w", r.ID, err)
	}
	return b.Put([]byte(r.ID), data)
}

func decode(v []byte) (*model.Reminder, error) {
	var r model.Reminder
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, err
	}
	r.Normalize()
	return &r, nil
}

// each decodes every record in the bucket. Undecodable values are skipped.
func each(b *bbolt.Bucket, fn func(r *model.Reminder) error) error {
	return b.ForEach(func(_, v []byte) error {
		r, err := decode(v)
		if err != nil {
			return nil
		}
		return fn(r)
	})
}

func (s *BoltStore) AddOne(r *model.Reminder) (*model.Reminder, error) {
	created, err := s.AddMany([]*model.Reminder{r})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *BoltStore) AddMany(rs []*model.Reminder) ([]*model.Reminder, error) {
	now := s.opts.now()
	created := make([]*model.Reminder, 0, len(rs))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(remindersBucket)
		for _, r := range rs {
			c := s.opts.prepare(r, now)
			if err := put(b, c); err != nil {
				return err
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add reminders: %w", err)
	}
	return created, nil
}

func (s *BoltStore) MarkSent(id string) (bool, error) {
	var marked bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(remindersBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		r, err := decode(v)
		if err != nil {
			return fmt.Errorf("decode reminder %s: %w", id, err)
		}
		if !r.Status.CanTransition(model.StatusSent) {
			return nil
		}
		now := s.opts.now()
		r.Status = model.StatusSent
		r.SentAt = &now
		marked = true
		return put(b, r)
	})
	if err != nil {
		return false, fmt.Errorf("mark sent %s: %w", id, err)
	}
	return marked, nil
}

func (s *BoltStore) CancelBySource(sourceEntityID string) (int, error) {
	return s.CancelBySourceKinds(sourceEntityID, nil)
}

func (s *BoltStore) CancelBySourceKinds(sourceEntityID string, match func(kind string) bool) (int, error) {
	var count int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(remindersBucket)

		var hits []*model.Reminder
		if err := each(b, func(r *model.Reminder) error {
			if r.SourceEntityID == sourceEntityID && kindMatches(match, r.Kind) && r.Status.CanTransition(model.StatusCancelled) {
				hits = append(hits, r)
			}
			return nil
		}); err != nil {
			return err
		}

		now := s.opts.now()
		for _, r := range hits {
			r.Status = model.StatusCancelled
			r.SentAt = &now
			if err := put(b, r); err != nil {
				return err
			}
		}
		count = len(hits)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for %s: %w", sourceEntityID, err)
	}
	return count, nil
}

func (s *BoltStore) CleanupOld(retention time.Duration) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(remindersBucket)
		cutoff := s.opts.now().Add(-retention)

		var ids []string
		if err := each(b, func(r *model.Reminder) error {
			if expired(r, cutoff) {
				ids = append(ids, r.ID)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup reminders: %w", err)
	}
	return removed, nil
}

func (s *BoltStore) DuePending(now time.Time) ([]*model.Reminder, error) {
	var due []*model.Reminder
	err := s.db.View(func(tx *bbolt.Tx) error {
		return each(tx.Bucket(remindersBucket), func(r *model.Reminder) error {
			if r.IsDue(now) {
				due = append(due, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return due, nil
}

func (s *BoltStore) Get(id string) (*model.Reminder, bool, error) {
	var r *model.Reminder
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(remindersBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		var err error
		r, err = decode(v)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return r, r != nil, nil
}

// List returns every record ordered by creation time.
func (s *BoltStore) List() ([]*model.Reminder, error) {
	var all []*model.Reminder
	err := s.db.View(func(tx *bbolt.Tx) error {
		return each(tx.Bucket(remindersBucket), func(r *model.Reminder) error {
			all = append(all, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	slices.SortStableFunc(all, func(a, b *model.Reminder) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return all, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Backend = (*BoltStore)(nil)
