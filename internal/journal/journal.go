package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/hunyuan3d/config"
	"github.com/BaSui01/hunyuan3d/manager"
	"go.uber.org/zap"
)

// =============================================================================
// 📒 任务日志存储
// =============================================================================

// ErrNotFound 任务不存在或已过期
var ErrNotFound = errors.New("journal: task not found")

// DefaultListLimit List 未指定数量时的上限
const DefaultListLimit = 50

// Store 任务快照存储
type Store interface {
	// Record 写入或覆盖一条快照
	Record(ctx context.Context, info manager.TaskInfo) error
	// Get 读取单个任务的最新快照
	Get(ctx context.Context, id string) (manager.TaskInfo, error)
	// List 按创建时间倒序返回最多 limit 条
	List(ctx context.Context, limit int) ([]manager.TaskInfo, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open 根据配置创建存储
func Open(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "redis":
		s, err := NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.TTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "mysql", "sqlite":
		s, err := OpenSQL(cfg.Driver, cfg.DSN, DefaultPoolConfig(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongodb":
		s, err := NewMongoStore(ctx, MongoOptions{
			URI:        cfg.URI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Nop 丢弃所有快照
type Nop struct{}

func (Nop) Record(context.Context, manager.TaskInfo) error { return nil }

func (Nop) Get(context.Context, string) (manager.TaskInfo, error) {
	return manager.TaskInfo{}, ErrNotFound
}

func (Nop) List(context.Context, int) ([]manager.TaskInfo, error) { return nil, nil }

func (Nop) Ping(context.Context) error { return nil }

func (Nop) Close() error { return nil }
