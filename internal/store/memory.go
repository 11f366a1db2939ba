package store

import (
	"context"
	"slices"
	"sync"

	"github.com/CZERTAINLY/Factory/internal/model"
)

// MemoryStore keeps the last saved job set in memory. It is used by tests and
// by commands which must not touch the disk.
type MemoryStore struct {
	mx    sync.Mutex
	jobs  []model.Job
	saves int
	err   error
}

func NewMemoryStore(jobs ...model.Job) *MemoryStore {
	return &MemoryStore{jobs: slices.Clone(jobs)}
}

// WithError makes every following SaveAll fail with err, nil restores
// normal behavior. This method exists for a unit testing only.
func (s *MemoryStore) WithError(err error) *MemoryStore {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.err = err
	return s
}

func (s *MemoryStore) LoadAll(_ context.Context) []model.Job {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.jobs)
}

func (s *MemoryStore) SaveAll(_ context.Context, jobs []model.Job) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.saves++
	if s.err != nil {
		return s.err
	}
	s.jobs = slices.Clone(jobs)
	return nil
}

// Saves returns how many times SaveAll has been called.
func (s *MemoryStore) Saves() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.saves
}
