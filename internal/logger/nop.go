package logger

import "github.com/rs/zerolog"

type nopLogger struct {
	zl zerolog.Logger
}

// NewNop 返回丢弃所有输出的 Logger，主要用于测试
func NewNop() Logger {
	return &nopLogger{zl: zerolog.Nop()}
}

func (l *nopLogger) Debug(string, ...any)      {}
func (l *nopLogger) Info(string, ...any)       {}
func (l *nopLogger) Warn(string, ...any)       {}
func (l *nopLogger) Error(string, ...any)      {}
func (l *nopLogger) Err(error, string, ...any) {}
func (l *nopLogger) With(...any) Logger        { return l }
