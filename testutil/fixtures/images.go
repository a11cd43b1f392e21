// Package fixtures 提供测试用的样例图像与模型数据。
package fixtures

import (
	"bytes"
	"encoding/base64"
)

// pngHeader 是合法 PNG 文件的前 8 字节
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// PNG 返回一个以 PNG 签名开头的小图像
func PNG() []byte {
	out := append([]byte{}, pngHeader...)
	return append(out, bytes.Repeat([]byte{0x00}, 24)...)
}

// GLB 返回 n 字节的伪 GLB 模型数据（以 glTF 魔数开头）
func GLB(n int) []byte {
	if n < 4 {
		n = 4
	}
	out := make([]byte, n)
	copy(out, "glTF")
	for i := 4; i < n; i++ {
		out[i] = byte(i % 251)
	}
	return out
}

// Base64 编码任意字节
func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
