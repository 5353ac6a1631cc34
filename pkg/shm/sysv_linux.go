//go:build linux

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/yodler/yodler/pkg/value"
)

// SysV is a Store backed by System V shared memory segments, one segment
// per name.
type SysV struct{}

// NewSysV returns a System V backed store.
func NewSysV() (*SysV, error) {
	return &SysV{}, nil
}

// Write implements Store. The existing segment is removed and a new one is
// created with exactly the size of the serialized value.
func (s *SysV) Write(name string, v value.Value) error {
	data, err := encode(name, v)
	if err != nil {
		return err
	}

	if err := s.Delete(name); err != nil {
		return &WriteError{Name: name, Err: err}
	}

	id, err := unix.SysvShmGet(int(IPCKey(name)), len(data), unix.IPC_CREAT|Permissions)
	if err != nil {
		return &WriteError{Name: name, Err: fmt.Errorf("shmget: %w", err)}
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return &WriteError{Name: name, Err: fmt.Errorf("shmat: %w", err)}
	}
	copy(mem, data)

	if err := unix.SysvShmDetach(mem); err != nil {
		return &WriteError{Name: name, Err: fmt.Errorf("shmdt: %w", err)}
	}
	return nil
}

// Read implements Store.
func (s *SysV) Read(name string) (value.Value, bool, error) {
	id, err := unix.SysvShmGet(int(IPCKey(name)), 0, 0)
	if errors.Is(err, unix.ENOENT) {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, fmt.Errorf("shared memory %q: shmget: %w", name, err)
	}

	mem, err := unix.SysvShmAttach(id, 0, unix.SHM_RDONLY)
	if err != nil {
		return value.Null(), false, fmt.Errorf("shared memory %q: shmat: %w", name, err)
	}

	data := make([]byte, len(mem))
	copy(data, mem)

	if err := unix.SysvShmDetach(mem); err != nil {
		return value.Null(), false, fmt.Errorf("shared memory %q: shmdt: %w", name, err)
	}

	return decode(name, data)
}

// Delete implements Store.
func (s *SysV) Delete(name string) error {
	id, err := unix.SysvShmGet(int(IPCKey(name)), 0, 0)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("shared memory %q: shmget: %w", name, err)
	}

	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shared memory %q: remove: %w", name, err)
	}
	return nil
}
