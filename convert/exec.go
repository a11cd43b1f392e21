package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/types"
)

// Placeholders substituted in ExecConverter arguments.
const (
	PlaceholderSrc = "{src}"
	PlaceholderDst = "{dst}"
)

var (
	// "progress: 0.42" / "PROGRESS=0.42" / "progress 42%"
	progressKV = regexp.MustCompile(`(?i)progress[\s:=]+([0-9]*\.?[0-9]+)\s*(%?)`)
	// 单独的百分比行，例如 "42%"
	progressPct = regexp.MustCompile(`^\s*([0-9]{1,3}(?:\.[0-9]+)?)\s*%\s*$`)
)

// ExecConverter runs an external program to convert the artifact.
type ExecConverter struct {
	Command string
	// Args may contain {src} and {dst}; empty means "{src} {dst}".
	Args   []string
	Env    []string
	logger *zap.Logger
}

// NewExecConverter creates an external-command converter.
func NewExecConverter(command string, args []string, logger *zap.Logger) *ExecConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecConverter{
		Command: command,
		Args:    args,
		logger:  logger.With(zap.String("component", "exec_converter")),
	}
}

// Convert runs the command and waits for it to exit.
func (c *ExecConverter) Convert(ctx context.Context, src, dst string, progress func(float64)) error {
	if c.Command == "" {
		return types.NewError(types.ErrConversion, "converter command is not configured")
	}
	args := c.expandArgs(src, dst)

	cmd := exec.CommandContext(ctx, c.Command, args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, max: 16 << 10}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.NewError(types.ErrConversion, "cannot attach to converter output").WithCause(err)
	}

	c.logger.Debug("running converter", zap.String("command", c.Command), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return types.Errorf(types.ErrConversion, "cannot start %s", c.Command).WithCause(err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if f, ok := ParseProgress(scanner.Text()); ok && progress != nil {
			progress(f)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := firstLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return types.NewError(types.ErrConversion, msg).WithCause(err)
	}

	if _, err := os.Stat(dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Errorf(types.ErrConversion, "%s exited without writing %s", c.Command, dst)
		}
		return types.NewError(types.ErrConversion, "cannot stat output").WithCause(err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

func (c *ExecConverter) expandArgs(src, dst string) []string {
	if len(c.Args) == 0 {
		return []string{src, dst}
	}
	r := strings.NewReplacer(PlaceholderSrc, src, PlaceholderDst, dst)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// ParseProgress extracts a fraction in [0, 1] from a converter output line.
func ParseProgress(line string) (float64, bool) {
	var num, pct string
	if m := progressKV.FindStringSubmatch(line); m != nil {
		num, pct = m[1], m[2]
	} else if m := progressPct.FindStringSubmatch(line); m != nil {
		num, pct = m[1], "%"
	} else {
		return 0, false
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if pct != "" || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// limitedWriter 只保留前 max 字节，防止转换器刷屏占用内存
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

// String 用于日志
func (c *ExecConverter) String() string {
	return fmt.Sprintf("%s %s", c.Command, strings.Join(c.Args, " "))
}
