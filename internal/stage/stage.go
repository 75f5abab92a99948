// Package stage implements the eight pipeline stages the orchestrator
// sequences: validate, concat, convert, asin, metadata, organize, archive,
// and cleanup. Each stage is a function over a shared Context and returns
// nil or an error, normally a *errs.StageError so the orchestrator's trap
// can categorize failures uniformly; the orchestrator treats any other
// error as transient.
package stage

import (
	"context"

	"github.com/rodaddy/audiobook-pipeline/internal/asin"
	"github.com/rodaddy/audiobook-pipeline/internal/config"
	"github.com/rodaddy/audiobook-pipeline/internal/logger"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
	"github.com/rodaddy/audiobook-pipeline/internal/runner"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
)

// Context bundles everything a stage needs: configuration, the book's
// manifest, the work directory it operates in, and every external-tool or
// HTTP collaborator. Stages never reach past Context for global state.
type Context struct {
	Cfg  *config.Config
	Manifest *manifest.Store

	BookHash        string
	SourcePath      string
	WorkDir         string
	Mode            manifest.Mode
	CLIASINOverride string

	Runner   *runner.Runner
	Prober   *tool.Prober
	Encoder  *tool.Encoder
	Tagger   *tool.Tagger

	Audible  *metadata.AudibleClient
	Audnexus *metadata.AudnexusClient
	Cache    *metadata.Cache

	ASINChain *asin.Chain

	Log *logger.Logger
}

// StageFunc is the signature every stage implements.
type StageFunc func(ctx context.Context, c *Context) error

// Registry maps canonical stage names to their implementations. It is a
// fixed package-level table; collaborators reach the stages through the
// Context passed to each call.
var Registry = map[string]StageFunc{
	"validate": Validate,
	"concat":   Concat,
	"convert":  Convert,
	"asin":     ASIN,
	"metadata": Metadata,
	"organize": Organize,
	"archive":  Archive,
	"cleanup":  Cleanup,
}
