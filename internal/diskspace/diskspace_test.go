package diskspace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_PassesForSmallSource(t *testing.T) {
	dir := t.TempDir()
	// A tiny source size relative to any real filesystem's free space.
	err := Check(dir, 1024)
	require.NoError(t, err)
}

func TestCheck_FailsForImpossiblySizedSource(t *testing.T) {
	dir := t.TempDir()
	// No real filesystem has an exabyte free.
	err := Check(dir, 1<<60)
	require.Error(t, err)
	var insufficient *ErrInsufficient
	assert.True(t, errors.As(err, &insufficient))
}
