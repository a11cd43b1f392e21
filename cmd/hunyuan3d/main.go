// =============================================================================
// hunyuan3d 主入口
// =============================================================================
// 把图像提交给 Hunyuan3D 生成服务、跟踪进度并把产出的 GLB 转成 USD 的桥接服务。
//
//	hunyuan3d serve --config config.yaml
//	hunyuan3d generate --input chair.png --texture
//	hunyuan3d health --remote http://localhost:8081
//
// 子命令列表见 commands。
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/hunyuan3d/config"
	"github.com/BaSui01/hunyuan3d/internal/telemetry"
	"github.com/BaSui01/hunyuan3d/remote"
)

// 构建时通过 -ldflags "-X main.Version=..." 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type command struct {
	name    string
	summary string
	run     func(args []string) int
}

// commands 在 init 中赋值，help 需要引用它自身
var commands []command

func init() {
	commands = []command{
		{"serve", "Start the API server (--config <path>)", runServe},
		{"generate", "Generate one model from an image and wait for the USD file", runGenerate},
		{"health", "Check this server (--addr) or a generation server (--remote)", runHealthCheck},
		{"version", "Print build information", func([]string) int { printVersion(os.Stdout); return exitOK }},
		{"help", "Show this message", func([]string) int { printUsage(os.Stdout); return exitOK }},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitUsage)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" {
		name = "help"
	}
	for _, c := range commands {
		if c.name == name {
			os.Exit(c.run(os.Args[2:]))
		}
	}
	fmt.Fprintf(os.Stderr, "hunyuan3d: unknown command %q\n\n", os.Args[1])
	printUsage(os.Stderr)
	os.Exit(exitUsage)
}

// loadConfig 加载并校验配置；path 为空时只用默认值和环境变量
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// signalContext 在 SIGINT / SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	_ = fs.Parse(args)

	loader, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hunyuan3d: %v\n", err)
		return exitError
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	logger.Info("hunyuan3d starting",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("build_time", BuildTime),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.Strings("env_overrides", loader.Overrides()),
	)

	ctx, stop := signalContext()
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		// 追踪不可用不影响服务
		logger.Warn("telemetry disabled", zap.Error(err))
	}

	srv := NewServer(cfg, loader, *configPath, logger, providers)
	if err := srv.Start(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitError
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return exitError
	}
	logger.Info("hunyuan3d stopped")
	return exitOK
}

// =============================================================================
// 🧊 generate
// =============================================================================

func runGenerate(args []string) int {
	defaults := remote.DefaultParams()

	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	input := fs.String("input", "", "input image (required)")
	output := fs.String("output", "", "output USD path (default <input>_hunyuan3d.usd)")
	endpoint := fs.String("endpoint", "", "generation server URL (default remote.base_url)")
	seed := fs.Int("seed", defaults.Seed, "random seed")
	texture := fs.Bool("texture", defaults.Texture, "generate textures")
	timeout := fs.Duration("timeout", 30*time.Minute, "give up after this long")
	sync := fs.Bool("sync", false, "use the blocking /generate call instead of submit and poll")
	_ = fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "hunyuan3d generate: --input is required")
		fs.Usage()
		return exitUsage
	}

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hunyuan3d: %v\n", err)
		return exitError
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	params := defaults
	params.Seed = *seed
	params.Texture = *texture

	run := generate
	if *sync {
		run = generateSync
	}
	res, err := run(ctx, cfg, logger, generateRequest{
		InputPath:  *input,
		OutputPath: *output,
		Endpoint:   *endpoint,
		Params:     params,
		Progress:   func(msg string) { fmt.Println(msg) },
	})
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		return exitError
	case !res.Success:
		fmt.Fprintf(os.Stderr, "generation failed: %s\n", res.Message)
		return exitError
	}
	fmt.Printf("model written to %s\n", res.Message)
	return exitOK
}

// =============================================================================
// 🏥 health
// =============================================================================

const healthCheckTimeout = 5 * time.Second

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8090", "bridge server base URL")
	remoteURL := fs.String("remote", "", "check this generation server instead")
	_ = fs.Parse(args)

	var err error
	if *remoteURL != "" {
		err = checkRemoteHealth(*remoteURL)
	} else {
		err = checkHTTPHealth(*addr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
		return exitError
	}
	fmt.Println("OK")
	return exitOK
}

func checkRemoteHealth(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	client := remote.NewClient(remote.Config{BaseURL: baseURL, Timeout: healthCheckTimeout})
	h, err := client.Health(ctx, baseURL)
	if err != nil {
		return err
	}
	if !h.Healthy() {
		return fmt.Errorf("generation server reports %q", h.Status)
	}
	return nil
}

func checkHTTPHealth(addr string) error {
	client := &http.Client{Timeout: healthCheckTimeout}
	resp, err := client.Get(strings.TrimSuffix(addr, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.New("status " + resp.Status)
	}
	return nil
}

// =============================================================================
// 📋 version / help
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "hunyuan3d %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "hunyuan3d: Hunyuan3D generation bridge\n\nUsage:\n  hunyuan3d <command> [flags]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	_ = tw.Flush()
	fmt.Fprint(w, "\nRun 'hunyuan3d <command> -h' for the flags of a command.\n")
}

// =============================================================================
// 🔧 日志
// =============================================================================

// initLogger 按配置构建 zap logger；未知级别按 info 处理，构建失败时回退到生产默认配置
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = !cfg.EnableStacktrace
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hunyuan3d: log config rejected, using defaults: %v\n", err)
		logger, _ = zap.NewProduction()
	}
	return logger
}
