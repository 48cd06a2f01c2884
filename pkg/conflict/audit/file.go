package audit

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/policy"
)

// FileSink appends conflicts to a JSON Lines file.
type FileSink struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewFileSink opens path for appending, creating it and its parent
// directories if needed.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, policy.NewStorageError("file", "open", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, policy.NewStorageError("file", "open", err)
	}
	return &FileSink{
		path:   path,
		file:   f,
		logger: slog.Default().With("component", "conflict.audit.file", "path", path),
	}, nil
}

// Append writes one line per conflict. The batch is written with a single
// write call so concurrent writers never interleave within a line.
func (s *FileSink) Append(ctx context.Context, conflicts []*conflict.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, c := range conflicts {
		line, err := marshalLine(c)
		if err != nil {
			return policy.NewStorageError("file", "encode", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return policy.NewStorageError("file", "append", os.ErrClosed)
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return policy.NewStorageError("file", "append", err)
	}
	s.logger.Debug("appended conflicts", "count", len(conflicts))
	return nil
}

// Path returns the audit file path.
func (s *FileSink) Path() string { return s.path }

// Close closes the file. Append fails afterwards.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return policy.NewStorageError("file", "close", err)
	}
	return nil
}

// ReadFile loads every conflict from a JSON Lines audit file. Blank lines
// are skipped; a malformed line fails with its line number.
func ReadFile(path string) ([]*conflict.Conflict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, policy.NewStorageError("file", "open", err)
	}
	defer f.Close()

	var out []*conflict.Conflict
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		c, err := unmarshalLine(data)
		if err != nil {
			return nil, policy.NewStorageError("file", "read", fmt.Errorf("line %d: %w", line, err))
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, policy.NewStorageError("file", "read", err)
	}
	return out, nil
}
