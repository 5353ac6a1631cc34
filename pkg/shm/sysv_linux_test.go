//go:build linux

package shm

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func newSysV(t *testing.T) Store {
	t.Helper()
	s, err := NewSysV()
	if err != nil {
		t.Fatalf("NewSysV: %v", err)
	}
	if _, err := unix.SysvShmGet(int(IPCKey("yodler-test-probe")), 0, 0); errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) {
		t.Skipf("system v shared memory unavailable: %v", err)
	}
	return s
}

func TestSysVStore(t *testing.T) {
	storeContract(t, newSysV)
}

func TestSysVSegmentSize(t *testing.T) {
	s := newSysV(t)
	name := "yodler-test-size"
	defer s.Delete(name)

	if err := s.Write(name, sampleValues()[6]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	id, err := unix.SysvShmGet(int(IPCKey(name)), 0, 0)
	if err != nil {
		t.Fatalf("shmget: %v", err)
	}
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		t.Fatalf("shmctl: %v", err)
	}

	want, _ := sampleValues()[6].MarshalJSON()
	if int(desc.Segsz) != len(want) {
		t.Errorf("segment size = %d, want %d", desc.Segsz, len(want))
	}
	if desc.Perm.Mode&0o777 != Permissions {
		t.Errorf("segment mode = %o, want %o", desc.Perm.Mode&0o777, Permissions)
	}
}
