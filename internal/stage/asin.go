package stage

import (
	"context"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

// ASIN runs the discovery priority chain and records the result on the
// manifest. Discovery failure is graceful: the stage still completes, and
// downstream stages fall back to filename-derived naming.
func ASIN(ctx context.Context, c *Context) error {
	result, ok := c.ASINChain.Discover(ctx, c.SourcePath, c.CLIASINOverride)

	extra := map[string]any{}
	if ok {
		extra["asin"] = result.ASIN
		extra["asin_source"] = string(result.Source)
		extra["asin_unvalidated"] = result.Unvalidated

		if _, err := c.Manifest.Update(c.BookHash, func(m *manifest.Manifest) {
			if m.BookMeta == nil {
				m.BookMeta = map[string]any{}
			}
			m.BookMeta["asin"] = result.ASIN
			m.BookMeta["asin_source"] = string(result.Source)
			m.BookMeta["asin_unvalidated"] = result.Unvalidated
		}); err != nil {
			return errs.WrapTransient("asin", 1, err, "cannot write manifest metadata")
		}
	}

	if _, err := c.Manifest.SetStage(c.BookHash, "asin", manifest.StageCompleted, extra); err != nil {
		return errs.WrapTransient("asin", 1, err, "cannot write manifest")
	}
	return nil
}
