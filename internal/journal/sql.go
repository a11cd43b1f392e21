package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ SQL 存储
// =============================================================================

// taskRecord task_records 表的行
type taskRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	InputPath    string `gorm:"type:text"`
	OutputPath   string `gorm:"type:text"`
	Endpoint     string `gorm:"size:255"`
	Params       string `gorm:"type:text"`
	State        string `gorm:"size:16;index"`
	Message      string `gorm:"type:text"`
	Progress     float64
	SubmittedAt  time.Time `gorm:"index"`
	TransitionAt time.Time
}

func (taskRecord) TableName() string { return "task_records" }

func recordFromInfo(info manager.TaskInfo) (taskRecord, error) {
	params, err := json.Marshal(info.Params)
	if err != nil {
		return taskRecord{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	return taskRecord{
		ID:           info.ID,
		InputPath:    info.InputPath,
		OutputPath:   info.OutputPath,
		Endpoint:     info.Endpoint,
		Params:       string(params),
		State:        string(info.State),
		Message:      info.Message,
		Progress:     info.Progress,
		SubmittedAt:  info.CreatedAt.UTC(),
		TransitionAt: info.UpdatedAt.UTC(),
	}, nil
}

func (r taskRecord) info() (manager.TaskInfo, error) {
	info := manager.TaskInfo{
		ID:         r.ID,
		InputPath:  r.InputPath,
		OutputPath: r.OutputPath,
		Endpoint:   r.Endpoint,
		State:      manager.State(r.State),
		Message:    r.Message,
		Progress:   r.Progress,
		CreatedAt:  r.SubmittedAt,
		UpdatedAt:  r.TransitionAt,
	}
	if r.Params != "" {
		if err := json.Unmarshal([]byte(r.Params), &info.Params); err != nil {
			return manager.TaskInfo{}, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	return info, nil
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// 健康检查间隔，0 关闭
	HealthCheckInterval time.Duration
	// 可重试错误的事务重试次数
	MaxTxRetries int
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        20,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		MaxTxRetries:        3,
	}
}

// SQLStore 基于 GORM 的存储
type SQLStore struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// OpenSQL 按驱动名打开数据库并迁移表结构
func OpenSQL(driver, dsn string, pool PoolConfig, logger *zap.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn is empty for driver %q", driver)
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	s, err := NewSQLStore(db, pool, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore 包装已打开的 GORM 实例，不做表结构迁移
func NewSQLStore(db *gorm.DB, pool PoolConfig, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	s := &SQLStore{
		db:     db,
		sqlDB:  sqlDB,
		config: pool,
		logger: logger.With(zap.String("component", "journal_sql")),
		stop:   make(chan struct{}),
	}
	if pool.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("sql journal initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Int("max_open_conns", pool.MaxOpenConns))
	return s, nil
}

// Migrate 创建或更新 task_records 表
func (s *SQLStore) Migrate() error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return fmt.Errorf("failed to migrate task_records: %w", err)
	}
	return nil
}

// Record upsert 一条快照
func (s *SQLStore) Record(ctx context.Context, info manager.TaskInfo) error {
	rec, err := recordFromInfo(info)
	if err != nil {
		return err
	}
	return s.withTransactionRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
}

// Get 读取单个快照
func (s *SQLStore) Get(ctx context.Context, id string) (manager.TaskInfo, error) {
	db, err := s.handle()
	if err != nil {
		return manager.TaskInfo{}, err
	}

	var rec taskRecord
	err = db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return manager.TaskInfo{}, ErrNotFound
	}
	if err != nil {
		return manager.TaskInfo{}, fmt.Errorf("journal get failed: %w", err)
	}
	return rec.info()
}

// List 按提交时间倒序列出
func (s *SQLStore) List(ctx context.Context, limit int) ([]manager.TaskInfo, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var recs []taskRecord
	if err := db.WithContext(ctx).
		Order("submitted_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("journal list failed: %w", err)
	}

	out := make([]manager.TaskInfo, 0, len(recs))
	for _, r := range recs {
		info, err := r.info()
		if err != nil {
			s.logger.Warn("skipping corrupt journal row", zap.String("task_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Ping 检查数据库连接
func (s *SQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("journal is closed")
	}
	return s.sqlDB.PingContext(ctx)
}

// Stats 返回连接池统计信息
func (s *SQLStore) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.logger.Info("closing sql journal")
	return s.sqlDB.Close()
}

func (s *SQLStore) handle() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("journal is closed")
	}
	return s.db, nil
}

// =============================================================================
// 🔄 事务与健康检查
// =============================================================================

// withTransactionRetry 在事务中执行；死锁、序列化失败等可重试错误按指数退避重试
func (s *SQLStore) withTransactionRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	attempts := s.config.MaxTxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return fmt.Errorf("journal record failed: %w", err)
		}

		s.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", attempts),
			zap.Error(err))

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", attempts, lastErr)
}

// isRetryableError 判断数据库错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"bad connection",
		"database is locked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (s *SQLStore) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("database health check failed", zap.Error(err))
		} else {
			stats := s.Stats()
			s.logger.Debug("database health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle))
		}
		cancel()
	}
}
