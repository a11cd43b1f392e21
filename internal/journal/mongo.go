package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/BaSui01/hunyuan3d/remote"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// =============================================================================
// 🍃 MongoDB 存储
// =============================================================================

// MongoOptions MongoDB 存储配置
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
}

// taskDocument 集合中的文档
type taskDocument struct {
	ID         string        `bson:"_id"`
	InputPath  string        `bson:"input_path"`
	OutputPath string        `bson:"output_path"`
	Endpoint   string        `bson:"endpoint"`
	Params     remote.Params `bson:"params"`
	State      string        `bson:"state"`
	Message    string        `bson:"message,omitempty"`
	Progress   float64       `bson:"progress"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}

func documentFromInfo(info manager.TaskInfo) taskDocument {
	return taskDocument{
		ID:         info.ID,
		InputPath:  info.InputPath,
		OutputPath: info.OutputPath,
		Endpoint:   info.Endpoint,
		Params:     info.Params,
		State:      string(info.State),
		Message:    info.Message,
		Progress:   info.Progress,
		CreatedAt:  info.CreatedAt.UTC(),
		UpdatedAt:  info.UpdatedAt.UTC(),
	}
}

func (d taskDocument) info() manager.TaskInfo {
	return manager.TaskInfo{
		ID:         d.ID,
		InputPath:  d.InputPath,
		OutputPath: d.OutputPath,
		Endpoint:   d.Endpoint,
		Params:     d.Params,
		State:      manager.State(d.State),
		Message:    d.Message,
		Progress:   d.Progress,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// MongoStore 基于 MongoDB 的存储
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore 连接 MongoDB 并确保索引存在
func NewMongoStore(ctx context.Context, opts MongoOptions, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.URI == "" {
		return nil, fmt.Errorf("journal mongodb uri is empty")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	if _, err := coll.Indexes().CreateOne(pingCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   coll,
		logger: logger.With(zap.String("component", "journal_mongo")),
	}
	s.logger.Info("mongodb journal initialized",
		zap.String("database", opts.Database),
		zap.String("collection", opts.Collection))
	return s, nil
}

// Record 按 _id upsert
func (s *MongoStore) Record(ctx context.Context, info manager.TaskInfo) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: info.ID}},
		documentFromInfo(info),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("journal record failed: %w", err)
	}
	return nil
}

// Get 读取单个快照
func (s *MongoStore) Get(ctx context.Context, id string) (manager.TaskInfo, error) {
	var doc taskDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return manager.TaskInfo{}, ErrNotFound
	}
	if err != nil {
		return manager.TaskInfo{}, fmt.Errorf("journal get failed: %w", err)
	}
	return doc.info(), nil
}

// List 按创建时间倒序列出
func (s *MongoStore) List(ctx context.Context, limit int) ([]manager.TaskInfo, error) {
	cursor, err := s.coll.Find(ctx, bson.D{},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(normalizeLimit(limit))))
	if err != nil {
		return nil, fmt.Errorf("journal list failed: %w", err)
	}

	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("journal list failed: %w", err)
	}

	out := make([]manager.TaskInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.info())
	}
	return out, nil
}

// Ping 检查连接
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 断开连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("closing mongodb journal")
	return s.client.Disconnect(ctx)
}
