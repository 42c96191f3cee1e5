package logger

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LineWriter is an io.Writer that logs every complete line it receives.
// Call Flush after the producer is done to emit a trailing partial line.
type LineWriter struct {
	ctx   context.Context //nolint:containedctx // The writer is bound to one subprocess lifetime.
	level zapcore.Level
	mu    sync.Mutex
	buf   bytes.Buffer
}

// NewLineWriter returns a writer logging at the given level with the context's logger.
func NewLineWriter(ctx context.Context, lvl zapcore.Level) *LineWriter {
	return &LineWriter{ctx: ctx, level: lvl}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line: keep it for the next Write.
			w.buf.Reset()
			w.buf.Write(line)

			break
		}

		w.emit(bytes.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

// Flush logs whatever is left in the buffer.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line []byte) {
	if len(line) == 0 {
		return
	}

	FromContext(w.ctx).Logw(w.level, string(line))
}
