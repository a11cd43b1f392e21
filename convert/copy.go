package convert

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/BaSui01/hunyuan3d/types"
)

const copyChunk = 64 << 10

// CopyConverter copies the artifact to the output path.
type CopyConverter struct{}

// Convert copies src to dst through a temporary file in dst's directory,
// reporting the fraction of bytes written.
func (CopyConverter) Convert(ctx context.Context, src, dst string, progress func(float64)) error {
	in, err := os.Open(src)
	if err != nil {
		return types.NewError(types.ErrConversion, "cannot open source").WithCause(err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return types.NewError(types.ErrConversion, "cannot stat source").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return types.NewError(types.ErrConversion, "cannot create output directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".convert-*")
	if err != nil {
		return types.NewError(types.ErrConversion, "cannot create output").WithCause(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	total := fi.Size()
	var written int64
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return types.NewError(types.ErrConversion, "write failed").WithCause(werr)
			}
			written += int64(n)
			if progress != nil && total > 0 {
				progress(float64(written) / float64(total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			return types.NewError(types.ErrConversion, "read failed").WithCause(rerr)
		}
	}

	if err := tmp.Close(); err != nil {
		return types.NewError(types.ErrConversion, "write failed").WithCause(err)
	}
	// 取消后不再覆盖 dst
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return types.NewError(types.ErrConversion, "cannot move output into place").WithCause(err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}
