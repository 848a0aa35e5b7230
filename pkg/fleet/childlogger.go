package fleet

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// tailSize bounds the number of captured lines kept for the admin log tail.
const tailSize = 256

// maxLineSize bounds a single captured line; the default scanner token limit
// is too small for children that log whole payloads on one line.
const maxLineSize = 1024 * 1024

// ChildProcessLogger drains a child process's stdout and stderr, tags every
// line with a short role prefix and forwards it to slog at independently
// configured severities. It also keeps a bounded tail of recent lines and
// fans lines out to subscribers (used by the websocket log endpoint).
//
// The draining goroutines own the pipes; they exit when the pipes close and
// never block process exit. Slow subscribers are skipped, not waited on.
type ChildProcessLogger struct {
	tag      string
	outLevel slog.Level
	errLevel slog.Level
	logger   *slog.Logger

	mu   sync.Mutex
	tail []string
	subs map[chan string]struct{}

	wg sync.WaitGroup
}

// LogChildProcess attaches a logger to the given stdout/stderr pipes and
// starts draining them.
func LogChildProcess(tag string, outLevel, errLevel slog.Level, stdout, stderr io.Reader) *ChildProcessLogger {
	l := &ChildProcessLogger{
		tag:      tag,
		outLevel: outLevel,
		errLevel: errLevel,
		logger:   slog.Default(),
		subs:     make(map[chan string]struct{}),
	}

	l.wg.Add(2)
	go l.watch(stdout, outLevel)
	go l.watch(stderr, errLevel)
	return l
}

func (l *ChildProcessLogger) watch(r io.Reader, level slog.Level) {
	defer l.wg.Done()
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)
	for s.Scan() {
		line := l.tag + " " + s.Text()
		l.logger.Log(context.Background(), level, line)
		l.record(line)
	}
	if err := s.Err(); err != nil {
		l.logger.Error("Error draining child output", "tag", l.tag, "error", err)
	}
}

func (l *ChildProcessLogger) record(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail = append(l.tail, line)
	if len(l.tail) > tailSize {
		l.tail = l.tail[len(l.tail)-tailSize:]
	}

	for sub := range l.subs {
		select {
		case sub <- line:
		default:
			// Subscriber is not keeping up, drop the line for it.
		}
	}
}

// Tail returns up to n of the most recently captured lines.
func (l *ChildProcessLogger) Tail(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.tail) {
		n = len(l.tail)
	}
	out := make([]string, n)
	copy(out, l.tail[len(l.tail)-n:])
	return out
}

// Subscribe registers a live feed of captured lines. The returned cancel
// function must be called to release the subscription.
func (l *ChildProcessLogger) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}
	return ch, cancel
}

// Wait blocks until both pipes are fully drained, which happens once the
// child process has exited and its pipes are closed.
func (l *ChildProcessLogger) Wait() {
	l.wg.Wait()
}
