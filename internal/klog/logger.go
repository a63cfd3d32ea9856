// Package klog provides structured, leveled logging for the allocator
// subsystems. It is a small hand-rolled logger rather than a pulled-in
// framework: the allocator core runs under a spinlock-equivalent
// sync.Mutex and must not block on an external sink, so log calls are
// synchronous writes to an io.Writer with no background goroutines.
package klog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

func (f Field) format() string {
	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case time.Duration:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func String(key, value string) Field   { return Field{Key: key, Value: value} }
func Int(key string, value int) Field  { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}
func Uintptr(key string, value uintptr) Field {
	return Field{Key: key, Value: value}
}
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Err(err error) Field               { return Field{Key: "error", Value: err} }
func Any(key string, value any) Field   { return Field{Key: key, Value: value} }

// Config configures a Logger.
type Config struct {
	Level      Level
	Component  string
	Output     io.Writer
	TimeFormat string
}

// Logger is a minimal structured logger: "[time] [LEVEL] [component] msg k=v ...".
type Logger struct {
	mu         sync.Mutex
	level      Level
	component  string
	output     io.Writer
	timeFormat string
}

// New creates a Logger from the given config, filling sensible defaults.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}
	return &Logger{level: cfg.Level, component: cfg.Component, output: cfg.Output, timeFormat: cfg.TimeFormat}
}

// Default builds a Logger with INFO level writing to stderr.
func Default(component string) *Logger {
	return New(Config{Level: Info, Component: component})
}

// With returns a logger scoped to a sub-component name, sharing the
// parent's sink and level.
func (l *Logger) With(component string) *Logger {
	return &Logger{level: l.level, component: component, output: l.output, timeFormat: l.timeFormat}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

// Fatal logs at FATAL and panics. The allocator core uses this for the
// "hard OOM / programmer error" class of faults (spec §7), where the
// caller did not set an atomic-failure flag.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(Fatal, msg, fields...)
	panic(msg)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format(l.timeFormat))
	b.WriteString("] [")
	b.WriteString(fmt.Sprintf("%-5s", levelNames[level]))
	b.WriteString("]")
	if l.component != "" {
		b.WriteString(" [")
		b.WriteString(l.component)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(f.format())
	}
	b.WriteString("\n")
	l.output.Write([]byte(b.String()))
}
