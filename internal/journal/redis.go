package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 存储
// =============================================================================

const (
	redisKeyPrefix = "hunyuan3d:task:"
	redisIndexKey  = "hunyuan3d:tasks"
)

// RedisOptions Redis 存储配置
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// 快照过期时间，0 表示永不过期
	TTL        time.Duration
	PoolSize   int
	MaxRetries int
}

// RedisStore 以 JSON 保存快照，ZSET 按创建时间索引
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore 连接 Redis 并验证可用
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	client := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		MaxRetries: opts.MaxRetries,
		PoolSize:   opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, opts.TTL, logger)
	s.logger.Info("redis journal initialized", zap.String("addr", opts.Addr))
	return s, nil
}

// NewRedisStoreFromClient 包装已有客户端
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "journal_redis")),
	}
}

func taskKey(id string) string {
	return redisKeyPrefix + id
}

// Record 写入快照并更新索引
func (s *RedisStore) Record(ctx context.Context, info manager.TaskInfo) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("journal is closed")
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(info.ID), data, s.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(info.CreatedAt.UnixNano()),
			Member: info.ID,
		})
		return nil
	})
	if err != nil {
		s.logger.Error("journal record failed", zap.String("task_id", info.ID), zap.Error(err))
		return fmt.Errorf("journal record failed: %w", err)
	}
	return nil
}

// Get 读取单个快照
func (s *RedisStore) Get(ctx context.Context, id string) (manager.TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return manager.TaskInfo{}, fmt.Errorf("journal is closed")
	}

	val, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return manager.TaskInfo{}, ErrNotFound
	}
	if err != nil {
		return manager.TaskInfo{}, fmt.Errorf("journal get failed: %w", err)
	}

	var info manager.TaskInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return manager.TaskInfo{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return info, nil
}

// List 按创建时间倒序列出；已过期的索引项顺带清理
func (s *RedisStore) List(ctx context.Context, limit int) ([]manager.TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	limit = normalizeLimit(limit)
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("journal list failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("journal list failed: %w", err)
	}

	out := make([]manager.TaskInfo, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var info manager.TaskInfo
		if err := json.Unmarshal([]byte(str), &info); err != nil {
			s.logger.Warn("skipping corrupt journal entry", zap.String("task_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, info)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			s.logger.Debug("failed to prune journal index", zap.Error(err))
		}
	}
	return out, nil
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("journal is closed")
	}
	return s.client.Ping(ctx).Err()
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing redis journal")
	return s.client.Close()
}
