package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// defaultFlushEvery is how many entries are buffered before the encoder is
// flushed to disk
const defaultFlushEvery = 64

// FileSink appends audit entries to a zstd-compressed file of JSON lines.
// Each process run appends a new zstd frame, so the file stays readable
// across restarts.
type FileSink struct {
	path       string
	flushEvery int

	mu      sync.Mutex
	file    *os.File // Protected by mu
	enc     *zstd.Encoder
	pending int
	closed  bool
}

// NewFileSink opens (or creates) path for appending
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit file %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit file %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audit file %s: %w", path, err)
	}

	return &FileSink{
		path:       path,
		flushEvery: defaultFlushEvery,
		file:       f,
		enc:        enc,
	}, nil
}

// Path returns the file being written
func (s *FileSink) Path() string {
	return s.path
}

// WriteAudit implements capability.AuditSink
func (s *FileSink) WriteAudit(entry types.AuditEntry) error {
	line, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}
	if _, err := s.enc.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	s.pending++
	if s.pending >= s.flushEvery {
		return s.flushLocked()
	}
	return nil
}

// Flush pushes buffered entries to disk
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.flushLocked()
}

func (s *FileSink) flushLocked() error {
	s.pending = 0
	if err := s.enc.Flush(); err != nil {
		return fmt.Errorf("flush audit file: %w", err)
	}
	return nil
}

// Close ends the current frame and closes the file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.enc.Close(), s.file.Close())
}

// ReadFile decodes every entry in an audit file, oldest first
func ReadFile(path string) ([]types.AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("audit file %s: %w", path, err)
	}
	defer dec.Close()

	var entries []types.AuditEntry
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e types.AuditEntry
		if err := sonic.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("audit file %s: line %d: %w", path, len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return entries, fmt.Errorf("audit file %s: %w", path, err)
	}
	return entries, nil
}
