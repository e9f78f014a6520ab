package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

// 包级 logger：slog 文本输出，级别与输出目标运行期可换。
var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 替换日志输出目标（如 stdout+文件的 MultiWriter）。
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel 解析级别字符串；无法识别时回落到 info。
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	l := build(os.Stdout)
	current.Store(l)
	return l
}

func Debugf(format string, v ...any) { get().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { get().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { get().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { get().Error(fmt.Sprintf(format, v...)) }
