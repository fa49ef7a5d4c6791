// internal/jobs/redis.go
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mcp-food-log/internal/models"
)

const (
	DefaultKeyPrefix = "analysis:"
	sweepStatsKey    = "cleanup:lastRun"
)

// Config holds Redis configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one key per job attribute:
// <prefix><id>:status, :result, :error and :image.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// settleScript moves a pending job to a terminal status and stores its
// payload atomically. Returns -1 for an unknown job, 0 if already settled.
var settleScript = redis.NewScript(`
local s = redis.call('GET', KEYS[1])
if not s then return -1 end
if s ~= 'pending' then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// createScript writes the pending status and the media ref together so a
// job is never visible without the ref the sweep needs. Returns 0 if the
// job exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
if ARGV[2] ~= '' then redis.call('SET', KEYS[2], ARGV[2]) end
return 1
`)

func NewRedisStore(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id, attr string) string {
	return s.prefix + id + ":" + attr
}

func (s *RedisStore) Create(ctx context.Context, id string, media *models.MediaRef) error {
	ref := ""
	if media != nil {
		r := *media
		r.JobID = ""
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal media ref: %w", err)
		}
		ref = string(data)
	}

	n, err := createScript.Run(ctx, s.client, []string{s.key(id, "status"), s.key(id, "image")}, string(models.StatusPending), ref).Int()
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	return nil
}

func (s *RedisStore) settle(ctx context.Context, id string, status models.JobStatus, attr, value string) error {
	n, err := settleScript.Run(ctx, s.client, []string{s.key(id, "status"), s.key(id, attr)}, string(status), value).Int()
	if err != nil {
		return fmt.Errorf("failed to settle job %s: %w", id, err)
	}
	switch n {
	case -1:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case 0:
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, id string, result *models.MealAnalysis) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return s.settle(ctx, id, models.StatusComplete, "result", string(data))
}

func (s *RedisStore) Fail(ctx context.Context, id string, message string) error {
	return s.settle(ctx, id, models.StatusError, "error", message)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.AnalysisJob, error) {
	vals, err := s.client.MGet(ctx,
		s.key(id, "status"), s.key(id, "result"), s.key(id, "error"), s.key(id, "image"),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	status, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	job := &models.AnalysisJob{ID: id, Status: models.JobStatus(status)}

	if raw, ok := vals[1].(string); ok && job.Status == models.StatusComplete {
		var result models.MealAnalysis
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of %s: %w", id, err)
		}
		job.Result = &result
	}
	if msg, ok := vals[2].(string); ok && job.Status == models.StatusError {
		job.ErrorMessage = msg
	}
	if raw, ok := vals[3].(string); ok {
		var ref models.MediaRef
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return nil, fmt.Errorf("failed to unmarshal media ref of %s: %w", id, err)
		}
		ref.JobID = id
		job.Media = &ref
	}
	return job, nil
}

func (s *RedisStore) ListMediaRefs(ctx context.Context, prefix string) ([]models.MediaRef, error) {
	var refs []models.MediaRef
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*:image", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		var ref models.MediaRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		ref.JobID = strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ":image")
		refs = append(refs, ref)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan media refs: %w", err)
	}
	return refs, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	err := s.client.Del(ctx,
		s.key(id, "status"), s.key(id, "result"), s.key(id, "error"), s.key(id, "image"),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) RecordSweep(ctx context.Context, stats models.SweepStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep stats: %w", err)
	}
	return s.client.Set(ctx, sweepStatsKey, data, 0).Err()
}

func (s *RedisStore) LastSweep(ctx context.Context) (*models.SweepStats, error) {
	data, err := s.client.Get(ctx, sweepStatsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep stats: %w", err)
	}
	var stats models.SweepStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sweep stats: %w", err)
	}
	return &stats, nil
}
