package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunLog captures every log line emitted during one file-processing run so
// the run's history entry can persist the same text operators see in the
// process logs. Attach it to a logger for the duration of a run; Text
// returns the accumulated lines.
type RunLog struct {
	mu    sync.Mutex
	lines []string
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{}
}

// Attach returns a child logger that tees every entry at InfoLevel and
// above into the run log in addition to the logger's own cores.
func (l *RunLog) Attach(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, l.core())
	}))
}

// Text returns the captured lines joined with newlines.
func (l *RunLog) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

// Len returns the number of captured lines.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

func (l *RunLog) core() zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)
	return &runLogCore{log: l, enc: enc}
}

// runLogCore is a zapcore.Core that appends rendered entries to the RunLog.
type runLogCore struct {
	log    *RunLog
	enc    zapcore.Encoder
	fields []zapcore.Field
}

func (c *runLogCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.InfoLevel
}

func (c *runLogCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &runLogCore{
		log:    c.log,
		enc:    c.enc.Clone(),
		fields: append(append([]zapcore.Field{}, c.fields...), fields...),
	}
	return clone
}

func (c *runLogCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *runLogCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field{}, c.fields...), fields...)
	buf, err := c.enc.EncodeEntry(ent, all)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()

	c.log.mu.Lock()
	c.log.lines = append(c.log.lines, line)
	c.log.mu.Unlock()
	return nil
}

func (c *runLogCore) Sync() error { return nil }
