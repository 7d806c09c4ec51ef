// Package logging 基于 zerolog 的全局日志
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("source", name).Msg("[Sync] 开始同步")
//	logging.Warn().Err(err).Uint("id", id).Msg("[Search] 索引更新失败")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置
type Config struct {
	Level  string    // trace, debug, info, warn, error
	Format string    // json 或 console
	Output io.Writer // 默认 os.Stderr
}

var (
	logger zerolog.Logger
	mu     sync.RWMutex
)

func init() {
	Init(Config{})
}

// Init 初始化全局日志，可重复调用
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	mu.Lock()
	logger = zerolog.New(out).With().Timestamp().Logger()
	mu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger 返回全局 logger 的副本
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With 派生带固定字段的子 logger，例如 logging.With().Str("component", "sync").Logger()
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// Debug 调试日志
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info 信息日志
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn 警告日志
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error 错误日志
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal 输出后退出进程
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
