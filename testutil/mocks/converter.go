// MockConverter 是格式转换器的测试模拟实现。
//
// 默认把源文件原样复制到目标路径，并按 0.5 / 1.0 上报进度。
package mocks

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sync"
)

// ConvertCall 记录一次转换调用
type ConvertCall struct {
	Src string
	Dst string
}

// MockConverter 转换器模拟
type MockConverter struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	calls []ConvertCall
}

// NewMockConverter 创建转换器模拟
func NewMockConverter() *MockConverter {
	return &MockConverter{}
}

// WithError 让每次转换返回 err
func (m *MockConverter) WithError(err error) *MockConverter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Blocking 让转换阻塞直到 Release 或 ctx 取消
func (m *MockConverter) Blocking() *MockConverter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
	return m
}

// Release 放行阻塞中的转换
func (m *MockConverter) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block != nil {
		close(m.block)
		m.block = nil
	}
}

// Calls 返回调用记录
func (m *MockConverter) Calls() []ConvertCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConvertCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Convert 实现转换接口
func (m *MockConverter) Convert(ctx context.Context, src, dst string, progress func(float64)) error {
	m.mu.Lock()
	m.calls = append(m.calls, ConvertCall{Src: src, Dst: dst})
	err := m.err
	block := m.block
	m.mu.Unlock()

	if progress != nil {
		progress(0.5)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	data, rerr := os.ReadFile(src)
	if rerr != nil {
		return errors.Join(errors.New("mock converter: read source"), rerr)
	}
	if werr := os.WriteFile(dst, data, 0o644); werr != nil {
		return werr
	}
	if progress != nil {
		progress(1.0)
	}
	return nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
