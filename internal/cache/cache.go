// Package cache provides Redis-backed caching with graceful degradation.
// When Redis is unavailable, operations return ErrCacheUnavailable and
// callers fall back to the exchange or database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
)

// ErrCacheUnavailable signals that Redis is down or disabled
var ErrCacheUnavailable = errors.New("cache unavailable")

// Key layout
const (
	keyTradingRules = "engine:trading_rules"  // contract specs per symbol
	keyEngineStatus = "engine:status:%s"      // per-user engine status snapshot
	keyLastCycle    = "engine:last_cycle:%s"  // per-user last completed cycle
)

// Default TTLs
const (
	TradingRulesTTL = time.Hour
	StatusTTL       = 5 * time.Minute
)

// Service wraps a Redis client with health tracking
type Service struct {
	client  *redis.Client
	logger  *logging.Logger
	mu      sync.RWMutex
	healthy bool
}

// NewService connects to Redis. A failed initial connection returns the
// service in degraded mode rather than an error; the engine runs fine
// without a cache.
func NewService(cfg config.RedisConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client: client,
		logger: logging.Default().WithComponent("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Initial Redis connection failed, running degraded", "addr", cfg.Addr, "error", err)
		return s, nil
	}

	s.healthy = true
	s.logger.Info("Redis connected", "addr", cfg.Addr)
	return s, nil
}

// IsHealthy reports whether Redis is currently usable
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) markHealth(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthy != ok {
		if ok {
			s.logger.Info("Redis recovered")
		} else {
			s.logger.Warn("Redis unavailable, falling back to live reads")
		}
	}
	s.healthy = ok
}

// Close shuts down the Redis connection
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// SetTradingRules caches the contract specs fetched from the exchange
func (s *Service) SetTradingRules(ctx context.Context, rules map[string]exchange.Contract) error {
	if s == nil || !s.IsHealthy() {
		return ErrCacheUnavailable
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal trading rules: %w", err)
	}
	if err := s.client.Set(ctx, keyTradingRules, data, TradingRulesTTL).Err(); err != nil {
		s.markHealth(false)
		return ErrCacheUnavailable
	}
	s.markHealth(true)
	return nil
}

// GetTradingRules returns cached contract specs, or ErrCacheUnavailable
// on a miss or Redis failure.
func (s *Service) GetTradingRules(ctx context.Context) (map[string]exchange.Contract, error) {
	if s == nil || !s.IsHealthy() {
		return nil, ErrCacheUnavailable
	}
	data, err := s.client.Get(ctx, keyTradingRules).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheUnavailable
	}
	if err != nil {
		s.markHealth(false)
		return nil, ErrCacheUnavailable
	}

	var rules map[string]exchange.Contract
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trading rules: %w", err)
	}
	s.markHealth(true)
	return rules, nil
}

// SetEngineStatus caches a status snapshot for fast dashboard reads
func (s *Service) SetEngineStatus(ctx context.Context, userID string, status interface{}) error {
	if s == nil || !s.IsHealthy() {
		return ErrCacheUnavailable
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal engine status: %w", err)
	}
	key := fmt.Sprintf(keyEngineStatus, userID)
	if err := s.client.Set(ctx, key, data, StatusTTL).Err(); err != nil {
		s.markHealth(false)
		return ErrCacheUnavailable
	}
	return nil
}

// GetEngineStatus reads a cached status snapshot into dest
func (s *Service) GetEngineStatus(ctx context.Context, userID string, dest interface{}) error {
	if s == nil || !s.IsHealthy() {
		return ErrCacheUnavailable
	}
	key := fmt.Sprintf(keyEngineStatus, userID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrCacheUnavailable
	}
	if err != nil {
		s.markHealth(false)
		return ErrCacheUnavailable
	}
	return json.Unmarshal(data, dest)
}

// SetLastCycle caches the most recent completed cycle summary
func (s *Service) SetLastCycle(ctx context.Context, userID string, cycle interface{}) error {
	if s == nil || !s.IsHealthy() {
		return ErrCacheUnavailable
	}
	data, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle: %w", err)
	}
	key := fmt.Sprintf(keyLastCycle, userID)
	if err := s.client.Set(ctx, key, data, StatusTTL).Err(); err != nil {
		s.markHealth(false)
		return ErrCacheUnavailable
	}
	return nil
}
