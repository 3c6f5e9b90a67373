package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Sink is the destination of log output. It is created once by the process
// entry point, handed to the logger, and closed by the shutdown hook.
//
// Writes after Close are redirected to stderr so that sessions still draining
// during shutdown never lose their final log lines.
type Sink struct {
	mu     sync.Mutex
	name   string
	w      io.Writer
	file   *os.File
	owned  bool
	closed bool
}

// OpenSink opens the named output. "", "stdout" and "stderr" select the
// process streams; anything else is a file path opened for appending.
func OpenSink(name string) (*Sink, error) {
	switch strings.ToLower(name) {
	case "", "stdout":
		return &Sink{name: "stdout", w: os.Stdout, file: os.Stdout}, nil
	case "stderr":
		return &Sink{name: "stderr", w: os.Stderr, file: os.Stderr}, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return &Sink{name: name, w: f, file: f, owned: true}, nil
}

// NewSink wraps an arbitrary writer. Close on the returned sink closes w
// when it implements io.Closer.
func NewSink(w io.Writer) *Sink {
	s := &Sink{name: fmt.Sprintf("%T", w), w: w}
	if f, ok := w.(*os.File); ok {
		s.file = f
	}
	_, s.owned = w.(io.Closer)
	return s
}

// Name returns "stdout", "stderr" or the file path.
func (s *Sink) Name() string {
	return s.name
}

// IsTerminal reports whether the sink writes to an interactive terminal.
func (s *Sink) IsTerminal() bool {
	if s.file == nil || s.owned {
		return false
	}
	return isTerminal(s.file.Fd())
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.Stderr.Write(p)
	}
	return s.w.Write(p)
}

// Sync flushes buffered data to stable storage when the sink is a file.
func (s *Sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Sink) syncLocked() error {
	if s.closed || s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil && s.owned {
		// stdout/stderr report EINVAL on pipes and terminals
		return fmt.Errorf("failed to sync log sink %q: %w", s.name, err)
	}
	return nil
}

// Close flushes and closes the sink. Process streams are flushed but left
// open. Calling Close more than once is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	syncErr := s.syncLocked()
	s.closed = true

	if !s.owned {
		return syncErr
	}
	if c, ok := s.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close log sink %q: %w", s.name, err)
		}
	}
	return syncErr
}
