package stage

import (
	"context"
	"os"

	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

// Cleanup removes the per-book work directory once every preceding stage
// has completed and CLEANUP_WORK_DIR is enabled. It never touches anything
// outside c.WorkDir, and a missing work directory is treated as already
// clean rather than an error.
func Cleanup(ctx context.Context, c *Context) error {
	if !c.Cfg.Flags.CleanupWorkDir {
		c.Log.WithStage("cleanup", c.BookHash).Info().Msg("CLEANUP_WORK_DIR disabled, leaving work directory in place")
		_, err := c.Manifest.SetStage(c.BookHash, "cleanup", manifest.StageCompleted, map[string]any{"removed": false})
		return err
	}

	if err := os.RemoveAll(c.WorkDir); err != nil && !os.IsNotExist(err) {
		c.Log.WithStage("cleanup", c.BookHash).Warn().Err(err).Msg("failed to remove work directory")
		_, err2 := c.Manifest.SetStage(c.BookHash, "cleanup", manifest.StageCompleted, map[string]any{"removed": false})
		return err2
	}

	_, err := c.Manifest.SetStage(c.BookHash, "cleanup", manifest.StageCompleted, map[string]any{"removed": true})
	return err
}
