// Package store persists generation jobs and the content they read and produce.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rankforge/api/internal/model"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrNotQueued       = errors.New("job is not queued")
	ErrWebsiteNotFound = errors.New("website not found")
)

// JobStore keeps job records. Update is an atomic read-modify-write: fn sees
// the current record and its changes are written only if nobody else wrote
// the record in between. An error from fn aborts the write.
type JobStore interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	Get(ctx context.Context, id string) (*model.GenerationJob, error)
	Update(ctx context.Context, id string, fn func(*model.GenerationJob) error) (*model.GenerationJob, error)
	// Stuck returns jobs in PROCESSING that started before the given time.
	Stuck(ctx context.Context, startedBefore time.Time) ([]*model.GenerationJob, error)
}

// Claim moves a QUEUED job to PROCESSING. Any other status yields ErrNotQueued,
// so only one worker wins a given attempt.
func Claim(ctx context.Context, s JobStore, id string, now time.Time) (*model.GenerationJob, error) {
	return s.Update(ctx, id, func(j *model.GenerationJob) error {
		if j.Status != model.JobStatusQueued {
			return ErrNotQueued
		}
		j.Status = model.JobStatusProcessing
		j.StartedAt = &now
		j.CompletedAt = nil
		j.Progress = 0
		j.CurrentStep = ""
		return nil
	})
}

const (
	jobKeyPrefix  = "job:"
	processingKey = "jobs:processing"
	maxTxRetries  = 8
)

// DefaultJobTTL is how long job records are kept in Redis.
const DefaultJobTTL = 7 * 24 * time.Hour

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// RedisJobStore stores each job as JSON under job:<id> and indexes jobs in
// PROCESSING by start time in a sorted set.
type RedisJobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisJobStore{rdb: rdb, ttl: ttl}
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisJobStore) Update(ctx context.Context, id string, fn func(*model.GenerationJob) error) (*model.GenerationJob, error) {
	key := jobKey(id)
	var out *model.GenerationJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}
		var job model.GenerationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", id, err)
		}
		if err := fn(&job); err != nil {
			return err
		}
		data, err = json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if job.Status == model.JobStatusProcessing && job.StartedAt != nil {
				pipe.ZAdd(ctx, processingKey, redis.Z{Score: float64(job.StartedAt.Unix()), Member: id})
			} else {
				pipe.ZRem(ctx, processingKey, id)
			}
			return nil
		})
		if err == nil {
			out = &job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func (s *RedisJobStore) Stuck(ctx context.Context, startedBefore time.Time) ([]*model.GenerationJob, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(startedBefore.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing jobs: %w", err)
	}

	var out []*model.GenerationJob
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			s.rdb.ZRem(ctx, processingKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.Status != model.JobStatusProcessing {
			s.rdb.ZRem(ctx, processingKey, id)
			continue
		}
		out = append(out, job)
	}
	return out, nil
}
