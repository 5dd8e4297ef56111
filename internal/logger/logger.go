package logger

import (
	"log"
)

type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

// Logger is a leveled logger with an optional component tag.
type Logger struct {
	out   *log.Logger
	level Level
	tag   string
}

func New(out *log.Logger, level Level) *Logger {
	return &Logger{out: out, level: level}
}

// WithTag returns a logger that prefixes every message with [tag].
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{out: l.out, level: l.level, tag: tag}
}

func (l *Logger) prefix(level, format string) string {
	s := format
	if level != "" {
		s = level + " " + s
	}
	if l.tag != "" {
		s = "[" + l.tag + "] " + s
	}
	return s
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.level >= LevelDebug {
		l.out.Printf(l.prefix("DEBUG:", format), v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.level >= LevelInfo {
		l.out.Printf(l.prefix("", format), v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.level >= LevelWarning {
		l.out.Printf(l.prefix("WARN:", format), v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.level >= LevelError {
		l.out.Printf(l.prefix("ERROR:", format), v...)
	}
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.out.Fatalf(l.prefix("FATAL:", format), v...)
}
