package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash 计算内容指纹，各部分以不可见分隔符拼接后取 sha256
// 空白差异（首尾空格）不影响结果
func ContentHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(strings.TrimSpace(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
