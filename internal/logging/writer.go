package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// lineWriter prefixes every complete line with a sequence number and a timestamp.
// A trailing partial line is held back until its newline arrives or Close is called.
type lineWriter struct {
	mu      sync.Mutex
	target  io.Writer
	seq     atomic.Uint64
	pending bytes.Buffer
	now     func() time.Time
}

func newLineWriter(target io.Writer) *lineWriter {
	return &lineWriter{target: target, now: time.Now}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		idx := bytes.IndexByte(w.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(w.pending.Next(idx+1), []byte("\n"))
		if err := w.writeLine(bytes.TrimSuffix(line, []byte("\r"))); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *lineWriter) writeLine(line []byte) error {
	prefix := slog.Uint64("line", w.seq.Add(1)).String() + " " +
		slog.String("time", w.now().Format(time.RFC3339)).String() + " "
	buf := make([]byte, 0, len(prefix)+len(line)+1)
	buf = append(buf, prefix...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.target.Write(buf)
	return err
}

// Close flushes a pending partial line.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() == 0 {
		return nil
	}
	line := append([]byte(nil), w.pending.Bytes()...)
	w.pending.Reset()
	return w.writeLine(line)
}
