// Package tracker maintains the durable set of fully processed log files.
package tracker

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Set is an append-only ledger of filenames that have been read to completion.
// Membership is the sole gate before a file is considered for (re)reading. The
// backing file is newline-delimited, appended synchronously and never
// rewritten.
type Set struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	processed map[string]struct{}
}

// Open loads the ledger at path, creating it if absent.
func Open(path string) (*Set, error) {
	processed := make(map[string]struct{})
	if data, err := os.ReadFile(path); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			name := strings.TrimSpace(scanner.Text())
			if name != "" {
				processed[name] = struct{}{}
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read ledger")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}

	return &Set{path: path, file: f, processed: processed}, nil
}

// IsProcessed reports whether name was previously marked.
func (s *Set) IsProcessed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[name]
	return ok
}

// MarkProcessed records name in the ledger. It is idempotent and appends to
// disk before returning, so a crash after MarkProcessed never causes a
// fully-read file to be reread.
func (s *Set) MarkProcessed(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("empty filename")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[name]; ok {
		return nil
	}
	if _, err := s.file.WriteString(name + "\n"); err != nil {
		return errors.Wrap(err, "append ledger")
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, "sync ledger")
	}
	s.processed[name] = struct{}{}
	return nil
}

// Len returns the number of tracked filenames.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// Close releases the ledger file handle.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
