// Package cache provides optional Redis-backed state for components that
// would otherwise only live in one process's memory: the Stall Detector's
// action/page-signature windows (§4.3), surviving a Step Loop process
// restart mid-run, and a distributed cost Budget (§3) shared across
// multiple sandbox instances running against the same cap. Grounded on the
// teacher's internal/skills/redis_cache.go and internal/workspaces/
// redis_cache.go: a nil-receiver-safe wrapper around redis.UniversalClient,
// built from config and returning nil (not an error) when disabled.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/config"
)

// FingerprintStore persists a Detector's bounded action/signature windows
// under a run ID, so a process restart mid-run can rehydrate stalldetector.
// Methods are nil-receiver safe: a nil *FingerprintStore is the "disabled"
// state and every method becomes a no-op, mirroring the teacher's
// RedisSkillsCache pattern.
type FingerprintStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewFingerprintStore connects to Redis per cfg.RedisAddr. Returns (nil,
// nil) when RedisAddr is unset, since this backend is optional.
func NewFingerprintStore(cfg config.StoreConfig, ttl time.Duration) (*FingerprintStore, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FingerprintStore{client: client, ttl: ttl}, nil
}

type fingerprintWindows struct {
	Actions    []string `json:"actions"`
	Signatures []string `json:"signatures"`
}

func (s *FingerprintStore) key(runID string) string {
	return "stall:" + runID + ":windows"
}

// Save writes the current action/signature windows for runID.
func (s *FingerprintStore) Save(ctx context.Context, runID string, actions, signatures []string) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(fingerprintWindows{Actions: actions, Signatures: signatures})
	if err != nil {
		return fmt.Errorf("cache: marshal fingerprint windows: %w", err)
	}
	if err := s.client.Set(ctx, s.key(runID), data, s.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("runID", runID).Msg("cache: failed to persist fingerprint windows")
		return err
	}
	return nil
}

// Load returns the persisted action/signature windows for runID, if any.
// ok is false when nothing was cached (including when the store is nil).
func (s *FingerprintStore) Load(ctx context.Context, runID string) (actions, signatures []string, ok bool) {
	if s == nil || s.client == nil {
		return nil, nil, false
	}
	val, err := s.client.Get(ctx, s.key(runID)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("runID", runID).Msg("cache: failed to load fingerprint windows")
		}
		return nil, nil, false
	}
	var windows fingerprintWindows
	if err := json.Unmarshal([]byte(val), &windows); err != nil {
		log.Debug().Err(err).Str("runID", runID).Msg("cache: failed to decode fingerprint windows")
		return nil, nil, false
	}
	return windows.Actions, windows.Signatures, true
}

// Close closes the underlying Redis client.
func (s *FingerprintStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
