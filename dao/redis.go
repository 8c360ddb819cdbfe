package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"nlu-agent/model"
)

var (
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrInvalidSession = errors.New("invalid session")
	ErrInvalidParam   = errors.New("invalid parameter")
)

const (
	DefaultKeyPrefix  = "nlu-agent:session:"
	DefaultTTL        = 24 * time.Hour
	DefaultMaxRetries = 3
)

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	TTL        time.Duration
	MaxRetries int
}

// RedisStore persists dialogue context snapshots so that sessions survive a
// restart and can be shared by several replicas.
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		ttl:        cfg.TTL,
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("redis"),
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Load returns nil, nil when the session has no snapshot.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*model.ContextSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is empty", ErrInvalidParam)
	}

	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap model.ContextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Save writes snap, merging with a snapshot another replica may have written
// in the meantime.
func (s *RedisStore) Save(ctx context.Context, snap model.ContextSnapshot) error {
	return s.SaveWithOptimisticLock(ctx, snap, s.maxRetries)
}

// SaveWithOptimisticLock watches the key so that a concurrent writer aborts
// the transaction, then retries with a short backoff.
func (s *RedisStore) SaveWithOptimisticLock(ctx context.Context, snap model.ContextSnapshot, maxRetries int) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	if maxRetries < 0 {
		return fmt.Errorf("%w: maxRetries cannot be negative", ErrInvalidParam)
	}

	key := s.key(snap.SessionID)

	for i := 0; i <= maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			toWrite := snap

			current, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				var stored model.ContextSnapshot
				if err := json.Unmarshal(current, &stored); err != nil {
					return err
				}
				toWrite = mergeSnapshots(stored, snap)
			}

			data, err := json.Marshal(toWrite)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				return nil
			})
			return err
		}, key)

		retry, retryErr := shouldRetry(err)
		if !retry {
			return retryErr
		}

		if i < maxRetries {
			s.logger.Debug("Snapshot write raced, retrying",
				zap.String("session_id", snap.SessionID),
				zap.Int("attempt", i+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond * time.Duration(10*(i+1))):
			}
			continue
		}

		return fmt.Errorf("%w for session %s: %v", ErrMaxRetries, snap.SessionID, retryErr)
	}

	return fmt.Errorf("%w for session %s", ErrMaxRetries, snap.SessionID)
}

func validateSnapshot(snap model.ContextSnapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("%w: session id is empty", ErrInvalidSession)
	}
	return nil
}

// shouldRetry reports whether err is a lost WATCH race.
func shouldRetry(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return true, err
	}
	return false, err
}

// mergeSnapshots unions the histories and takes intent and slot state from
// whichever snapshot was updated last. On a tie the incoming one wins.
func mergeSnapshots(stored, incoming model.ContextSnapshot) model.ContextSnapshot {
	merged := incoming
	if isTimestampNewer(stored.LastUpdated, incoming.LastUpdated) {
		merged = stored
	}
	merged.SessionID = incoming.SessionID
	merged.History = mergeHistory(stored.History, incoming.History)
	return merged
}

// mergeHistory deduplicates turns by ID and orders them by time. Turns with
// equal timestamps keep the incoming order.
func mergeHistory(stored, incoming []model.Turn) []model.Turn {
	seen := make(map[string]int, len(stored)+len(incoming))
	result := make([]model.Turn, 0, len(stored)+len(incoming))
	for _, turns := range [][]model.Turn{incoming, stored} {
		for _, t := range turns {
			if i, ok := seen[t.ID]; ok {
				if isTimestampNewer(t.Timestamp, result[i].Timestamp) {
					result[i] = t
				}
				continue
			}
			seen[t.ID] = len(result)
			result = append(result, t)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func isTimestampNewer(a, b time.Time) bool {
	return a.After(b)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is empty", ErrInvalidParam)
	}
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
