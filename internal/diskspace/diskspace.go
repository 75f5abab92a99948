// Package diskspace implements the pre-flight free-space check the pipeline contract
// requires before the concat/convert stage begins: at least 3x the source
// input's byte size must be free on the work volume, to cover the
// intermediate concat file, the encoded output, and working headroom.
package diskspace

import (
	"fmt"
)

// Multiplier is the safety factor the pipeline contract names.
const Multiplier = 3

// ErrInsufficient is wrapped into the returned error when free space is
// below the required multiple of sourceBytes.
type ErrInsufficient struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *ErrInsufficient) Error() string {
	return fmt.Sprintf("diskspace: %s has %d bytes free, need %d (%dx source size)", e.Path, e.Available, e.Required, Multiplier)
}

// Check verifies that path's filesystem has at least Multiplier times
// sourceBytes free. Returns *ErrInsufficient (use errors.As) when the check
// fails, so callers can classify it as a permanent stage error 
func Check(path string, sourceBytes int64) error {
	available, err := freeBytes(path)
	if err != nil {
		return fmt.Errorf("diskspace: statfs %s: %w", path, err)
	}
	required := uint64(sourceBytes) * Multiplier
	if available < required {
		return &ErrInsufficient{Path: path, Required: required, Available: available}
	}
	return nil
}
