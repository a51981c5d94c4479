package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rankforge/api/internal/model"
)

// MemoryJobStore is a process-local JobStore. Records are stored encoded so
// callers never share memory with the store.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string][]byte
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string][]byte{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job *model.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = data
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decode(id)
}

func (s *MemoryJobStore) Update(_ context.Context, id string, fn func(*model.GenerationJob) error) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.decode(id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	s.jobs[id] = data
	return job, nil
}

func (s *MemoryJobStore) Stuck(_ context.Context, startedBefore time.Time) ([]*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.GenerationJob
	for id := range s.jobs {
		job, err := s.decode(id)
		if err != nil {
			return nil, err
		}
		if job.Status == model.JobStatusProcessing && job.StartedAt != nil && !job.StartedAt.After(startedBefore) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	return out, nil
}

func (s *MemoryJobStore) decode(id string) (*model.GenerationJob, error) {
	data, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
