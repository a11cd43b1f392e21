package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/hunyuan3d/types"
)

// =============================================================================
// 🚧 提交约束
// =============================================================================

// SubmitPolicy 限制 HTTP 调用方可以指定的生成服务地址与本地文件路径。
//
// 调用方总可以使用当前默认地址；AllowedEndpoints 列出额外允许的地址。
// FileRoots 非空时，input_path 与 output_path 必须位于其中某个目录之下。
type SubmitPolicy struct {
	AllowedEndpoints []string
	FileRoots        []string
}

func normalizeEndpoint(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// checkEndpoint endpoint 为空表示使用默认地址
func (p SubmitPolicy) checkEndpoint(endpoint, defaultEndpoint string) error {
	want := normalizeEndpoint(endpoint)
	if want == "" || want == normalizeEndpoint(defaultEndpoint) {
		return nil
	}
	for _, allowed := range p.AllowedEndpoints {
		if want == normalizeEndpoint(allowed) {
			return nil
		}
	}
	return forbidden("endpoint %q is not in server.allowed_endpoints", endpoint)
}

// checkPath 空路径直接放行（output_path 缺省时由输入路径推导）
func (p SubmitPolicy) checkPath(field, path string) error {
	if len(p.FileRoots) == 0 || path == "" {
		return nil
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return types.Errorf(types.ErrInvalidRequest, "invalid %s", field).WithCause(err)
	}
	for _, root := range p.FileRoots {
		r, err := resolvePath(root)
		if err != nil {
			continue
		}
		if isWithin(r, resolved) {
			return nil
		}
	}
	return forbidden("%s is outside server.file_roots", field)
}

func forbidden(format string, args ...any) error {
	return types.Errorf(types.ErrInvalidRequest, format, args...).WithHTTPStatus(http.StatusForbidden)
}

// resolvePath 返回绝对路径，并展开其中已存在部分的符号链接，借链接逃出根目录的路径会被识破
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	// 输出路径及其上级目录可能尚不存在，向上找到第一个存在的祖先
	existing, rest := abs, ""
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(real, rest), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
