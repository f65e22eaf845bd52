package gateway

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// stderrTail keeps the last max bytes written to it and logs each complete
// line. It is the process's Stderr, so exec copies into it from its own
// goroutine while the reply is still being read.
type stderrTail struct {
	max    int
	logger *slog.Logger
	mask   *redactor

	mu      sync.Mutex
	buf     []byte
	partial []byte
}

func newStderrTail(max int, logger *slog.Logger, mask *redactor) *stderrTail {
	return &stderrTail{max: max, logger: logger, mask: mask}
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	if s.max > 0 && len(s.buf) > s.max {
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-s.max:]...)
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.logLine(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
	}
	if s.max > 0 && len(s.partial) > s.max {
		s.logLine(string(s.partial))
		s.partial = s.partial[:0]
	}
	return len(p), nil
}

// String returns the retained tail with secrets masked.
func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.redact(strings.TrimSpace(string(s.buf)))
}

// logLine maps Python-style level prefixes to slog levels.
func (s *stderrTail) logLine(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	line = s.mask.redact(line)
	switch {
	case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"),
		strings.Contains(line, "ERROR:"), strings.HasPrefix(line, "Traceback"):
		s.logger.Warn("inference stderr", "line", line)
	case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"),
		strings.Contains(line, "WARNING:"):
		s.logger.Info("inference stderr", "line", line)
	default:
		s.logger.Debug("inference stderr", "line", line)
	}
}
