package convert

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hunyuan3d/testutil"
	"github.com/BaSui01/hunyuan3d/testutil/fixtures"
	"github.com/BaSui01/hunyuan3d/types"
)

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(f float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, f)
}

func (p *progressLog) all() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

func TestCopyConverter(t *testing.T) {
	model := fixtures.GLB(3*copyChunk + 17)
	src := testutil.WriteFile(t, "in.glb", model)
	dst := filepath.Join(t.TempDir(), "nested", "out.usd")

	var p progressLog
	require.NoError(t, CopyConverter{}.Convert(testutil.TestContext(t), src, dst, p.record))

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, model, out)

	values := p.all()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
	assert.Equal(t, 1.0, values[len(values)-1])

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dst), ".convert-*"))
	assert.Empty(t, leftovers)
}

func TestCopyConverter_Errors(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.usd")

	err := CopyConverter{}.Convert(context.Background(), filepath.Join(t.TempDir(), "missing.glb"), dst, nil)
	assert.True(t, types.IsCode(err, types.ErrConversion))

	src := testutil.WriteFile(t, "in.glb", fixtures.GLB(16))
	err = CopyConverter{}.Convert(testutil.CancelledContext(), src, dst, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"progress: 0.42", 0.42, true},
		{"PROGRESS=0.5", 0.5, true},
		{"progress 42%", 0.42, true},
		{"Progress: 75", 0.75, true},
		{"  60% ", 0.6, true},
		{"progress: 1", 1, true},
		{"loading meshes", 0, false},
		{"progress: 250%", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestExecConverter_Success(t *testing.T) {
	requireShell(t)
	src := testutil.WriteFile(t, "in.glb", fixtures.GLB(64))
	dst := filepath.Join(t.TempDir(), "out.usd")

	c := NewExecConverter("sh", []string{"-c", `echo "progress: 0.25"; echo "50%"; cp "$0" "$1"`, PlaceholderSrc, PlaceholderDst}, zaptest.NewLogger(t))

	var p progressLog
	require.NoError(t, c.Convert(testutil.TestContext(t), src, dst, p.record))
	assert.FileExists(t, dst)
	assert.Equal(t, []float64{0.25, 0.5, 1}, p.all())
}

func TestExecConverter_FailureUsesStderr(t *testing.T) {
	requireShell(t)
	src := testutil.WriteFile(t, "in.glb", fixtures.GLB(8))
	dst := filepath.Join(t.TempDir(), "out.usd")

	c := NewExecConverter("sh", []string{"-c", `echo "unsupported primitive" >&2; exit 3`}, nil)
	err := c.Convert(testutil.TestContext(t), src, dst, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConversion))
	te, _ := types.AsError(err)
	assert.Equal(t, "unsupported primitive", te.Message)
}

func TestExecConverter_MissingOutput(t *testing.T) {
	requireShell(t)
	src := testutil.WriteFile(t, "in.glb", fixtures.GLB(8))

	c := NewExecConverter("sh", []string{"-c", "exit 0"}, nil)
	err := c.Convert(testutil.TestContext(t), src, filepath.Join(t.TempDir(), "out.usd"), nil)
	assert.True(t, types.IsCode(err, types.ErrConversion))
	assert.Contains(t, err.Error(), "without writing")
}

func TestExecConverter_NotConfigured(t *testing.T) {
	err := NewExecConverter("", nil, nil).Convert(context.Background(), "a", "b", nil)
	assert.True(t, types.IsCode(err, types.ErrConversion))
}

func TestExecConverter_DefaultArgs(t *testing.T) {
	c := NewExecConverter("usdcat", nil, nil)
	assert.Equal(t, []string{"/a.glb", "/b.usd"}, c.expandArgs("/a.glb", "/b.usd"))

	c.Args = []string{"--in={src}", "-o", "{dst}"}
	assert.Equal(t, []string{"--in=/a.glb", "-o", "/b.usd"}, c.expandArgs("/a.glb", "/b.usd"))
}

func TestNew(t *testing.T) {
	assert.IsType(t, CopyConverter{}, New("", nil, nil))
	assert.IsType(t, &ExecConverter{}, New("usdcat", nil, nil))
}
