package pion

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// zapLoggerFactory routes pion's internal ICE/DTLS/SRTP logs into zap.
// Trace output is dropped.
type zapLoggerFactory struct {
	logger *zap.SugaredLogger
}

func newLoggerFactory(logger *zap.SugaredLogger) logging.LoggerFactory {
	return zapLoggerFactory{logger: logger}
}

func (f zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return zapLeveledLogger{l: f.logger.With("pion_scope", scope)}
}

type zapLeveledLogger struct {
	l *zap.SugaredLogger
}

func (zapLeveledLogger) Trace(string)                 {}
func (zapLeveledLogger) Tracef(string, ...interface{}) {}

func (z zapLeveledLogger) Debug(msg string)                          { z.l.Debug(msg) }
func (z zapLeveledLogger) Debugf(format string, args ...interface{}) { z.l.Debugf(format, args...) }
func (z zapLeveledLogger) Info(msg string)                           { z.l.Info(msg) }
func (z zapLeveledLogger) Infof(format string, args ...interface{})  { z.l.Infof(format, args...) }
func (z zapLeveledLogger) Warn(msg string)                           { z.l.Warn(msg) }
func (z zapLeveledLogger) Warnf(format string, args ...interface{})  { z.l.Warnf(format, args...) }
func (z zapLeveledLogger) Error(msg string)                          { z.l.Error(msg) }
func (z zapLeveledLogger) Errorf(format string, args ...interface{}) { z.l.Errorf(format, args...) }
