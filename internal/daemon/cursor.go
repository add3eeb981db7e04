package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CursorStore holds the dispatch offset: the smallest update id that has
// not yet been requested. Implementations decide restart semantics: an
// in-memory cursor replays the platform's pending backlog after a restart,
// a file cursor resumes where the previous process stopped.
type CursorStore interface {
	Get() (int, error)
	Set(offset int) error
}

// MemoryCursor keeps the offset in memory only.
type MemoryCursor struct {
	offset int
}

// NewMemoryCursor creates an in-memory cursor starting at zero.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{}
}

func (c *MemoryCursor) Get() (int, error) {
	return c.offset, nil
}

func (c *MemoryCursor) Set(offset int) error {
	c.offset = offset
	return nil
}

// FileCursor persists the offset as a single decimal counter in a file.
type FileCursor struct {
	path string
}

// NewFileCursor creates a durable cursor backed by the given file.
func NewFileCursor(path string) *FileCursor {
	return &FileCursor{path: path}
}

func (c *FileCursor) Get() (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}

	offset, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed cursor file %s: %w", c.path, err)
	}
	return offset, nil
}

func (c *FileCursor) Set(offset int) error {
	if err := os.WriteFile(c.path, []byte(strconv.Itoa(offset)), 0644); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// NewCursor picks the durable file cursor when a path is configured and
// the in-memory cursor otherwise.
func NewCursor(path string) CursorStore {
	if path != "" {
		return NewFileCursor(path)
	}
	return NewMemoryCursor()
}
