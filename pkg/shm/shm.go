// Package shm implements the shared-memory fact cache.
//
// A store maps a caller-chosen name to one structured value that other
// processes can read back. Names are addressed through SegmentID, which is
// stable across processes and releases.
//
// The cache is best effort. Writes delete the existing segment and create a
// new one sized to the content, with no locking around the two steps: a
// concurrent reader may see no data while a write is in progress, and
// concurrent writers to one name are last-writer-wins. Callers that need more
// must keep a single writer per name.
package shm

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"github.com/yodler/yodler/pkg/value"
)

// DefaultName is the segment name used by the CLI when none is configured.
const DefaultName = "yodler"

// Permissions is the mode of created segments.
const Permissions = 0o755

// ErrUnsupported is returned by NewSysV on platforms without System V
// shared memory.
var ErrUnsupported = errors.New("system v shared memory is not supported on " + runtime.GOOS)

// Store is a named value cache shared between processes.
type Store interface {
	// Write replaces the value stored under name.
	Write(name string, v value.Value) error

	// Read returns the value stored under name. The boolean is false when
	// nothing is stored, which is not an error.
	Read(name string) (value.Value, bool, error)

	// Delete removes the value stored under name. Deleting a missing entry
	// is not an error.
	Delete(name string) error
}

// SegmentID maps name to its segment identifier: the first eight bytes of
// the SHA-1 digest of name read as a big-endian integer.
func SegmentID(name string) uint64 {
	sum := sha1.Sum([]byte(name))
	return binary.BigEndian.Uint64(sum[:8])
}

// IPCKey returns the System V key for name. A key_t keeps the low 32 bits
// of the segment id. Key 0 is IPC_PRIVATE and would never be found again,
// so it maps to 1.
func IPCKey(name string) int32 {
	key := int32(uint32(SegmentID(name)))
	if key == 0 {
		return 1
	}
	return key
}

// WriteError is returned when the segment for a write cannot be created or
// filled.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("shared memory write error for %q: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a segment holds content that does not parse.
type DecodeError struct {
	Name    string
	Content []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("shared memory decode error for %q: %v: %q", e.Name, e.Err, truncate(e.Content, 64))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func encode(name string, v value.Value) ([]byte, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, &WriteError{Name: name, Err: fmt.Errorf("encode: %w", err)}
	}
	return data, nil
}

func decode(name string, data []byte) (value.Value, bool, error) {
	if len(data) == 0 {
		return value.Null(), false, nil
	}
	v, err := value.Parse(data)
	if err != nil {
		content := make([]byte, len(data))
		copy(content, data)
		return value.Null(), false, &DecodeError{Name: name, Content: content, Err: err}
	}
	return v, true, nil
}
