package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建标准输出的 slog 日志记录器。
//
// 参数:
//
//	level: 日志级别字符串 (debug / info / warn / error)
func NewDefault(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

// NewJSON 创建 JSON 格式的 slog 日志记录器（生产环境使用）。
func NewJSON(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
