//go:build windows

package lock

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x2
	lockfileFailImmediately = 0x1
)

// tryFlock is the Windows analogue of the unix flock path: a non-blocking
// exclusive LockFileEx call over the whole file.
func tryFlock(f *os.File) error {
	ol := new(syscall.Overlapped)
	r, _, err := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0,
		^uintptr(0),
		^uintptr(0),
		uintptr(unsafe.Pointer(ol)),
	)
	if r == 0 {
		if err == syscall.ERROR_IO_PENDING || err == syscall.ERROR_LOCK_VIOLATION {
			return ErrHeld
		}
		return err
	}
	return nil
}

func unlockAndClose(f *os.File) error {
	ol := new(syscall.Overlapped)
	_, _, _ = procUnlockFileEx.Call(f.Fd(), 0, ^uintptr(0), ^uintptr(0), uintptr(unsafe.Pointer(ol)))
	return f.Close()
}
