package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 定义日志接口，参数为键值对
type Logger interface {
	// Debug 记录调试信息
	Debug(msg string, kv ...any)

	// Info 记录一般信息
	Info(msg string, kv ...any)

	// Warn 记录警告信息
	Warn(msg string, kv ...any)

	// Error 记录错误信息
	Error(msg string, kv ...any)

	// Err 记录带错误对象的信息
	Err(err error, msg string, kv ...any)

	// With 返回携带固定字段的子日志器
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level   string   // debug, info, warn, error
	Writers []string // console, file
	File    string   // 日志文件路径
	Out     io.Writer
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建日志器
func New(opts Options) *ZeroLogger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			out := opts.Out
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"})
		case "file":
			writers = append(writers, newFileWriter(opts.File))
		}
	}
	if len(writers) == 0 {
		out := opts.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, out)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &ZeroLogger{zl: zl}
}

// newFileWriter 创建按大小滚动的文件输出
func newFileWriter(path string) io.Writer {
	if path == "" {
		path = filepath.Join("logs", "shopcheck.log")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   false,
	}
}

// Debug 记录调试信息
func (l *ZeroLogger) Debug(msg string, kv ...any) { l.write(l.zl.Debug(), msg, kv) }

// Info 记录一般信息
func (l *ZeroLogger) Info(msg string, kv ...any) { l.write(l.zl.Info(), msg, kv) }

// Warn 记录警告信息
func (l *ZeroLogger) Warn(msg string, kv ...any) { l.write(l.zl.Warn(), msg, kv) }

// Error 记录错误信息
func (l *ZeroLogger) Error(msg string, kv ...any) { l.write(l.zl.Error(), msg, kv) }

// Err 记录带错误对象的信息
func (l *ZeroLogger) Err(err error, msg string, kv ...any) {
	l.write(l.zl.Error().Err(err), msg, kv)
}

// With 返回携带固定字段的子日志器
func (l *ZeroLogger) With(kv ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		ctx = ctx.Interface(key, val)
	}
	return &ZeroLogger{zl: ctx.Logger()}
}

func (l *ZeroLogger) write(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		switch v := val.(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case string:
			ev = ev.Str(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

// pair 取出第 i 个键值对，缺失值用 MISSING 填充
func pair(kv []any, i int) (string, any) {
	key, ok := kv[i].(string)
	if !ok {
		key = fmt.Sprintf("%v", kv[i])
	}
	if i+1 >= len(kv) {
		return key, "MISSING"
	}
	return key, kv[i+1]
}

// Nop 空日志实现，不输出任何日志
type Nop struct{}

// NewNop 创建空日志记录器
func NewNop() Logger { return Nop{} }

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any) {}
func (Nop) Warn(string, ...any) {}
func (Nop) Error(string, ...any) {}
func (Nop) Err(error, string, ...any) {}
func (n Nop) With(...any) Logger { return n }
