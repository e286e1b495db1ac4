package logging

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

const defaultBufferLimit = 256

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

type entry struct {
	ctx    context.Context
	level  level
	msg    string
	fields []interface{}
}

// Buffer holds log entries emitted before configuration is loaded, such as
// config discovery messages, and replays them into the real logger.
type Buffer struct {
	mu      sync.Mutex
	limit   int
	entries []entry
}

// NewBuffer creates a buffer keeping at most limit entries (oldest dropped).
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &Buffer{limit: limit}
}

// Logger returns a ports.Logger writing into the buffer.
func (b *Buffer) Logger() ports.Logger {
	return &bufferedLogger{buf: b}
}

// Len reports the number of pending entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush replays pending entries into delegate in emission order.
func (b *Buffer) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	b.mu.Lock()
	pending := b.entries
	b.entries = nil
	b.mu.Unlock()

	for _, e := range pending {
		switch e.level {
		case levelDebug:
			delegate.Debug(e.ctx, e.msg, e.fields...)
		case levelWarn:
			delegate.Warn(e.ctx, e.msg, e.fields...)
		case levelError:
			delegate.Error(e.ctx, e.msg, e.fields...)
		default:
			delegate.Info(e.ctx, e.msg, e.fields...)
		}
	}
}

func (b *Buffer) add(e entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.limit {
		b.entries = append(b.entries[:0], b.entries[1:]...)
	}
	b.entries = append(b.entries, e)
}

type bufferedLogger struct {
	buf    *Buffer
	fields []interface{}
}

func (l *bufferedLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, levelDebug, msg, fields)
}

func (l *bufferedLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, levelInfo, msg, fields)
}

func (l *bufferedLogger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, levelWarn, msg, fields)
}

func (l *bufferedLogger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, levelError, msg, fields)
}

func (l *bufferedLogger) With(fields ...interface{}) ports.Logger {
	next := append(append([]interface{}{}, l.fields...), fields...)
	return &bufferedLogger{buf: l.buf, fields: next}
}

func (l *bufferedLogger) record(ctx context.Context, lvl level, msg string, fields []interface{}) {
	payload := append(append([]interface{}{}, l.fields...), fields...)
	l.buf.add(entry{ctx: ctx, level: lvl, msg: msg, fields: payload})
}
