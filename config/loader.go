// =============================================================================
// 📦 hunyuan3d 配置加载器
// =============================================================================
// 默认值 → YAML 文件 → HUNYUAN3D_* 环境变量，最后执行校验函数。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("hunyuan3d.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 环境变量键由 env 标签拼接：HUNYUAN3D_REMOTE_BASE_URL、HUNYUAN3D_SERVER_API_KEYS=a,b
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是完整配置结构
type Config struct {
	Remote    RemoteConfig    `yaml:"remote" env:"REMOTE"`
	Poller    PollerConfig    `yaml:"poller" env:"POLLER"`
	Scratch   ScratchConfig   `yaml:"scratch" env:"SCRATCH"`
	Handoff   HandoffConfig   `yaml:"handoff" env:"HANDOFF"`
	Converter ConverterConfig `yaml:"converter" env:"CONVERTER"`
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Journal   JournalConfig   `yaml:"journal" env:"JOURNAL"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RemoteConfig 远端 API 服务配置
type RemoteConfig struct {
	// 默认服务地址，提交时未指定 endpoint 则使用它
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 连接池最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// PollerConfig 轮询器配置
type PollerConfig struct {
	// 两次完整扫描之间的间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Shutdown 时等待进行中扫描的上限
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单次状态查询的传输失败重试次数，0 表示首次失败即判定任务失败
	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
}

// ScratchConfig 临时目录配置
type ScratchConfig struct {
	// 为空则使用系统临时目录
	Root string `yaml:"root" env:"ROOT"`
}

// HandoffConfig 转换交接配置
type HandoffConfig struct {
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
}

// ConverterConfig 格式转换配置
type ConverterConfig struct {
	// 外部转换程序；为空时直接复制模型文件
	Command string `yaml:"command" env:"COMMAND"`
	// 参数，支持 {src} 与 {dst} 占位符
	Args []string `yaml:"args" env:"ARGS"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// 监听地址；非回环地址必须同时配置 api_keys 或 jwt_secret
	Host            string        `yaml:"host" env:"HOST"`
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API Key 列表，为空则不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许通过 ?api_key= 传递（浏览器 WebSocket 无法设置请求头）
	AllowQueryAPIKey bool    `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 WebSocket Origin 模式
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// HS256 密钥，非空时要求 Bearer token
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// 除 remote.base_url 外，调用方可以指定的生成服务地址
	AllowedEndpoints []string `yaml:"allowed_endpoints" env:"ALLOWED_ENDPOINTS"`
	// 非空时 input_path / output_path 必须位于这些目录之下
	FileRoots []string `yaml:"file_roots" env:"FILE_ROOTS"`
}

// Authenticated 是否配置了 API Key 或 JWT 鉴权
func (s ServerConfig) Authenticated() bool {
	return len(s.APIKeys) > 0 || s.JWTSecret != ""
}

// IsLoopbackHost 判断监听主机是否只对本机可见；空主机表示所有网卡
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// JournalConfig 任务历史存储配置
type JournalConfig struct {
	// 驱动: none, redis, postgres, mysql, sqlite, mongodb
	Driver string `yaml:"driver" env:"DRIVER"`
	// Redis 地址
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// SQL 连接串（postgres/mysql/sqlite）
	DSN string `yaml:"dsn" env:"DSN"`
	// MongoDB 连接
	URI        string `yaml:"uri" env:"URI"`
	Database   string `yaml:"database" env:"DATABASE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 记录保留时长，0 表示永久
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// DefaultEnvPrefix 环境变量前缀，键形如 HUNYUAN3D_POLLER_INTERVAL
const DefaultEnvPrefix = "HUNYUAN3D"

var durationType = reflect.TypeOf(time.Duration(0))

// Loader 按 默认值 → YAML → 环境变量 的顺序构建 Config。
// 同一个 Loader 会被 Reloader 在文件变化时重复调用。
type Loader struct {
	path       string
	prefix     string
	strict     bool
	lookup     func(string) (string, bool)
	validators []func(*Config) error

	mu        sync.Mutex
	overrides []string
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		prefix: DefaultEnvPrefix,
		lookup: os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时只使用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithStrictYAML 拒绝 YAML 中未知的字段，拼写错误的键不会被静默忽略
func (l *Loader) WithStrictYAML() *Loader {
	l.strict = true
	return l
}

// WithLookupEnv 替换环境变量来源
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// WithValidator 追加校验函数，按添加顺序执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Overrides 返回最近一次 Load 中生效的环境变量名
func (l *Loader) Overrides() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.overrides...)
}

// Load 构建并校验配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.decodeFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	applied, err := l.applyEnv(reflect.ValueOf(cfg).Elem(), l.prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	l.mu.Lock()
	l.overrides = applied
	l.mu.Unlock()
	return cfg, nil
}

// decodeFile 将 YAML 叠加到 cfg 上；未出现的字段保留原值
func (l *Loader) decodeFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(l.strict)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", l.path, err)
	}
	return nil
}

// applyEnv 按 env 标签遍历结构体，键为 PREFIX_SECTION_FIELD
func (l *Loader) applyEnv(v reflect.Value, prefix string, applied []string) ([]string, error) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			var err error
			if applied, err = l.applyEnv(field, key, applied); err != nil {
				return nil, err
			}
			continue
		}

		raw, ok := l.lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			return nil, fmt.Errorf("failed to set %s=%q: %w", key, raw, err)
		}
		applied = append(applied, key)
	}
	return applied, nil
}

// parseInto 把字符串写入字段；[]string 以逗号分隔
func parseInto(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

var journalDrivers = map[string]bool{
	"": true, "none": true, "redis": true,
	"postgres": true, "mysql": true, "sqlite": true, "mongodb": true,
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url must not be empty")
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, "remote.timeout must be positive")
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if c.Poller.MaxRetries < 0 {
		errs = append(errs, "poller.max_retries must not be negative")
	}
	if c.Handoff.QueueSize <= 0 {
		errs = append(errs, "handoff.queue_size must be positive")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if !IsLoopbackHost(c.Server.Host) && !c.Server.Authenticated() {
		errs = append(errs, fmt.Sprintf(
			"server.host %q is reachable from other machines; set server.api_keys or server.jwt_secret", c.Server.Host))
	}
	if !journalDrivers[c.Journal.Driver] {
		errs = append(errs, fmt.Sprintf("unknown journal driver %q", c.Journal.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
