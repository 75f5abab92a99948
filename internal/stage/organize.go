package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/hashid"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

// mountCheckTimeout bounds the library-root health probe before any write.
const mountCheckTimeout = 5 * time.Second

// Organize builds the Plex-style destination path, sanitizes every path
// component, and deploys the work-directory M4B (plus its companion
// files) to the NFS library. A non-responsive library mount fails the
// stage transiently so the next automation cycle can retry.
func Organize(ctx context.Context, c *Context) error {
	if err := checkMountHealth(ctx, c.Cfg.Paths.NFSOutputDir); err != nil {
		return errs.WrapTransient("organize", 1, err, "library mount did not respond")
	}

	m, err := c.Manifest.Read(c.BookHash)
	if err != nil || m == nil {
		return errs.WrapPermanent("organize", 2, err, "cannot read manifest")
	}

	components := resolvePathComponents(c, m)
	destDir, destFile := buildPlexPath(c.Cfg.Paths.NFSOutputDir, components)
	destPath := filepath.Join(destDir, destFile)

	if err := os.MkdirAll(destDir, c.Cfg.Perms.DirMode); err != nil {
		return errs.WrapTransient("organize", 1, err, "cannot create destination directory")
	}

	srcPath := filepath.Join(c.WorkDir, OutputName)
	if skip, err := alreadyDeployed(srcPath, destPath); err != nil {
		return errs.WrapTransient("organize", 1, err, "cannot stat destination")
	} else if !skip {
		if err := deployFile(srcPath, destPath, c.Cfg.Perms.FileMode); err != nil {
			return errs.WrapTransient("organize", 1, err, "cannot deploy output file")
		}
	}

	deployCompanions(c.WorkDir, destDir, c.Cfg.Perms.FileMode)

	if _, err := c.Manifest.SetStage(c.BookHash, "organize", manifest.StageCompleted, map[string]any{
		"destination_path": destPath,
	}); err != nil {
		return errs.WrapTransient("organize", 1, err, "cannot write manifest")
	}
	return nil
}

type pathComponents struct {
	Author         string
	Series         string
	SeriesPosition string
	Title          string
	Year           string
}

func resolvePathComponents(c *Context, m *manifest.Manifest) pathComponents {
	var pc pathComponents

	if v, ok := m.BookMeta["author"].(string); ok && v != "" {
		pc.Author = v
	} else {
		pc.Author = "Unknown Author"
	}

	if v, ok := m.BookMeta["series_name"].(string); ok {
		pc.Series = v
	}
	if v, ok := m.BookMeta["series_position"].(float64); ok && pc.Series != "" {
		pc.SeriesPosition = formatSeriesPosition(v)
	}

	if v, ok := m.BookMeta["title"].(string); ok && v != "" {
		pc.Title = v
	} else {
		pc.Title = hashid.Sanitize(filepath.Base(c.SourcePath)) + "-" + c.BookHash[:8]
	}

	if v, ok := m.BookMeta["release_date"].(string); ok && len(v) >= 4 {
		pc.Year = v[:4]
	}

	return pc
}

// buildPlexPath resolves the library-relative directory and file name for
// pc, with or without a series, per the documented path shape.
func buildPlexPath(base string, pc pathComponents) (dir, file string) {
	author := hashid.Sanitize(pc.Author)
	title := hashid.Sanitize(pc.Title)

	yearSuffix := ""
	if pc.Year != "" {
		yearSuffix = fmt.Sprintf(" (%s)", pc.Year)
	}

	if pc.Series != "" {
		series := hashid.Sanitize(pc.Series)
		folder := hashid.Sanitize(fmt.Sprintf("%s - %s%s", pc.SeriesPosition, pc.Title, yearSuffix))
		dir = filepath.Join(base, author, series, folder)
	} else {
		folder := hashid.Sanitize(fmt.Sprintf("%s%s", pc.Title, yearSuffix))
		dir = filepath.Join(base, author, folder)
	}
	file = title + ".m4b"
	return dir, file
}

// checkMountHealth probes the library root for responsiveness before any
// write, bounded to mountCheckTimeout.
func checkMountHealth(ctx context.Context, root string) error {
	done := make(chan error, 1)
	go func() {
		_, err := os.Stat(root)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mountCheckTimeout):
		return fmt.Errorf("organize: mount health check timed out after %s", mountCheckTimeout)
	}
}

// alreadyDeployed reports whether destPath exists and matches srcPath's
// size, making the deploy idempotent.
func alreadyDeployed(srcPath, destPath string) (bool, error) {
	destInfo, err := os.Stat(destPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return false, err
	}
	return destInfo.Size() == srcInfo.Size(), nil
}

// deployFile performs a byte copy followed by an explicit chmod, never an
// install-style primitive that chowns — NFS mounts can squash ownership
// and reject a chown outright.
func deployFile(srcPath, destPath string, mode os.FileMode) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := destPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, destPath)
}

func deployCompanions(workDir, destDir string, mode os.FileMode) {
	for _, name := range []string{"cover.jpg", "desc.txt", "reader.txt"} {
		src := filepath.Join(workDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		_ = deployFile(src, filepath.Join(destDir, name), mode)
	}
}
