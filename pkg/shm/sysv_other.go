//go:build !linux

package shm

import (
	"github.com/yodler/yodler/pkg/value"
)

// SysV is unavailable on this platform.
type SysV struct{}

// NewSysV always fails with ErrUnsupported on this platform.
func NewSysV() (*SysV, error) {
	return nil, ErrUnsupported
}

// Write implements Store.
func (s *SysV) Write(string, value.Value) error {
	return ErrUnsupported
}

// Read implements Store.
func (s *SysV) Read(string) (value.Value, bool, error) {
	return value.Null(), false, ErrUnsupported
}

// Delete implements Store.
func (s *SysV) Delete(string) error {
	return ErrUnsupported
}
