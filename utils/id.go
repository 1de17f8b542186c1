package utils

import (
	"strings"

	"github.com/google/uuid"
)

// Token 返回8位十六进制随机串，用于生成输出文件名
func Token() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// UniqueName 拼接 prefix_token.ext 形式的文件名
func UniqueName(prefix, ext string) string {
	if prefix == "" {
		return Token() + ext
	}
	return prefix + "_" + Token() + ext
}
