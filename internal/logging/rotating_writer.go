package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// rotatingWriter writes log output to date-stamped files, starting a new file
// each UTC day and rolling over within a day once maxBytes is exceeded.
//
// For basePath "logs/gatewayd.log" output files are named
// logs/gatewayd-2025-11-03.log, logs/gatewayd-2025-11-03-2.log, and so on.
type rotatingWriter struct {
	basePath string
	maxBytes int64

	mu    sync.Mutex
	day   string // YYYY-MM-DD of the open file
	seq   int    // 1-based rollover index within the day
	file  *os.File
	wrote int64
}

// NewRotatingWriter returns a WriteCloser rotating at maxBytes per file.
// A basePath of "-" disables file output entirely.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	w := &rotatingWriter{basePath: basePath, maxBytes: maxBytes}
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.wrote += int64(n)
	}
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// rotate opens a fresh file when the UTC day changed or when writing incoming
// bytes would push the current file past maxBytes. Must hold w.mu.
func (w *rotatingWriter) rotate(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || w.day != today {
		w.day = today
		w.seq = 1
		return w.open()
	}
	if w.maxBytes > 0 && w.wrote+incoming > w.maxBytes {
		w.seq++
		return w.open()
	}
	return nil
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".log"
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	filename := fmt.Sprintf("%s-%s%s", stem, w.day, ext)
	if w.seq > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.seq, ext)
	}
	f, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.wrote = 0
	if st, err := f.Stat(); err == nil {
		w.wrote = st.Size()
	}
	return nil
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
