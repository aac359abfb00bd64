// Package homework stores the deadline-bearing entities reminders are built
// from. The collection is a JSON array read on every call.
package homework

import (
	"errors"
	"sync"

	"github.com/noahxzhu/devoir-reminders/internal/jsonfile"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

var ErrNotFound = errors.New("entity not found")

type Store struct {
	mu       sync.Mutex
	filePath string
}

func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

func (s *Store) read() ([]model.SourceEntity, error) {
	var list []model.SourceEntity
	if _, err := jsonfile.Read(s.filePath, &list); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Normalize()
	}
	return list, nil
}

func (s *Store) List() ([]model.SourceEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Get(id string) (model.SourceEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return model.SourceEntity{}, err
	}
	for _, e := range list {
		if e.ID == id {
			return e, nil
		}
	}
	return model.SourceEntity{}, ErrNotFound
}

// Put inserts e or replaces the entity with the same id.
func (s *Store) Put(e model.SourceEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return err
	}
	e.Normalize()
	for i := range list {
		if list[i].ID == e.ID {
			list[i] = e
			return jsonfile.Write(s.filePath, list)
		}
	}
	return jsonfile.Write(s.filePath, append(list, e))
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == id {
			return jsonfile.Write(s.filePath, append(list[:i], list[i+1:]...))
		}
	}
	return ErrNotFound
}
