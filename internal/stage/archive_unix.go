//go:build !windows

package stage

import (
	"os"
	"syscall"
)

// sameFilesystem compares device IDs via stat(2); rename(2) only works
// within one filesystem, so archive needs this before choosing its move
// strategy.
func sameFilesystem(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	statA, ok := infoA.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	statB, ok := infoB.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	return statA.Dev == statB.Dev, nil
}
