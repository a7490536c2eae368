package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Logger keeps the most recent lines in a ring buffer, appends every line
// to an optional file and publishes lines on Chan for the UI. A nil Logger
// discards everything.
type Logger struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int
	closed   bool

	file   *os.File
	fileCh chan string
	uiCh   chan string
	done   chan struct{}
}

func NewLogger(filePath string, capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		lines:    make([]string, capacity),
		capacity: capacity,
		uiCh:     make(chan string, 100),
		done:     make(chan struct{}),
	}

	if filePath == "" {
		close(l.done)
		return l
	}
	f, err := openLogFile(filePath)
	if err != nil {
		close(l.done)
		return l
	}
	l.file = f
	l.fileCh = make(chan string, 256)
	go l.writer()
	return l
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

func (l *Logger) Write(msg string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.lines[l.head] = msg
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	if l.fileCh != nil {
		select {
		case l.fileCh <- msg:
		default:
		}
	}
	select {
	case l.uiCh <- msg:
	default:
	}
}

// Printf writes a line prefixed with the wall-clock time.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	ts := time.Now().Format("15:04:05")
	l.Write(fmt.Sprintf("[%s] %s", ts, fmt.Sprintf(format, args...)))
}

// Lines returns the buffered lines, oldest first.
func (l *Logger) Lines() []string {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if l.count >= l.capacity {
		start = l.head
	}
	out := make([]string, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.lines[(start+i)%l.capacity])
	}
	return out
}

func (l *Logger) ReadAll() string {
	var result []byte
	for _, line := range l.Lines() {
		result = append(result, line...)
		result = append(result, '\n')
	}
	return string(result)
}

func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.uiCh
}

func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		for _, msg := range batch {
			l.file.WriteString(msg + "\n")
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.fileCh:
			if !ok {
				flush()
				l.file.Close()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes the file and closes Chan. Later writes are dropped.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.fileCh != nil {
		close(l.fileCh)
	}
	close(l.uiCh)
	l.mu.Unlock()

	<-l.done
}
