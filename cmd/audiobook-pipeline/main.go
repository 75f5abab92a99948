// Command audiobook-pipeline converts a directory of audio files (or
// enriches an existing M4B) into a tagged, chaptered, Plex-organized
// audiobook, resuming from a per-book manifest if interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rodaddy/audiobook-pipeline/internal/asin"
	"github.com/rodaddy/audiobook-pipeline/internal/config"
	"github.com/rodaddy/audiobook-pipeline/internal/ledger"
	"github.com/rodaddy/audiobook-pipeline/internal/logger"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
	"github.com/rodaddy/audiobook-pipeline/internal/metrics"
	"github.com/rodaddy/audiobook-pipeline/internal/orchestrator"
	"github.com/rodaddy/audiobook-pipeline/internal/runner"
	"github.com/rodaddy/audiobook-pipeline/internal/stage"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
	"github.com/rodaddy/audiobook-pipeline/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exit codes the orchestrator's outcomes map onto.
const (
	exitSuccess   = 0
	exitTransient = 1
	exitPermanent = 2
)

func main() {
	app := &cli.App{
		Name:    "audiobook-pipeline",
		Usage:   "Convert, tag, and organize audiobooks from a source directory or M4B",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: "convert", Usage: "convert|enrich|metadata-only|organize-only"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log external commands instead of running them"},
			&cli.BoolFlag{Name: "force", Usage: "Reprocess a book even if its manifest is already completed"},
			&cli.BoolFlag{Name: "verbose", Usage: "Enable debug-level logging"},
			&cli.BoolFlag{Name: "no-lock", Usage: "Skip acquiring the global lock (for single-book debugging)"},
			&cli.StringFlag{Name: "asin", Usage: "Override ASIN discovery with a known-good value"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file"},
		},
		ArgsUsage: "<source-path>",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Get().Error().Err(err).Msg("audiobook-pipeline: fatal error")
		os.Exit(exitPermanent)
	}
}

func run(c *cli.Context) error {
	sourcePath := c.Args().First()
	if sourcePath == "" {
		return cli.Exit("source path is required", exitPermanent)
	}
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("resolve source path: %v", err), exitPermanent)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load config: %v", err), exitPermanent)
	}
	if c.Bool("dry-run") {
		cfg.Flags.DryRun = true
	}
	if c.Bool("force") {
		cfg.Flags.Force = true
	}
	if c.Bool("verbose") {
		cfg.Flags.Verbose = true
		cfg.Flags.LogLevel = "debug"
	}
	if c.Bool("no-lock") {
		cfg.Flags.NoLock = true
	}

	log := logger.Setup(logger.Config{
		Level:  cfg.Flags.LogLevel,
		LogDir: cfg.Paths.LogDir,
	})

	modeFlag := c.String("mode")
	if !c.IsSet("mode") && strings.EqualFold(filepath.Ext(absSource), ".m4b") {
		modeFlag = "enrich"
	}
	mode, err := parseMode(modeFlag)
	if err != nil {
		return cli.Exit(err.Error(), exitPermanent)
	}

	manifests, err := manifest.NewStore(cfg.Paths.ManifestDir, cfg.Retry.MaxRetries)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open manifest store: %v", err), exitPermanent)
	}

	metaCache, err := metadata.NewCache(cfg.Paths.CacheDir, time.Duration(cfg.Catalog.AudnexusCacheDays)*24*time.Hour)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open metadata cache: %v", err), exitPermanent)
	}

	runRunner := runner.New(cfg.Flags.DryRun)
	prober := tool.NewProber("", runRunner)
	encoder := tool.NewEncoder("", runRunner)
	tagger := tool.NewTagger("", runRunner)
	audible := metadata.NewAudibleClient(cfg.Catalog.AudibleRegion, cfg.Catalog.MetadataTimeout)
	audnexus := metadata.NewAudnexusClient(cfg.Catalog.AudnexusRegion, cfg.Catalog.MetadataTimeout)
	asinChain := asin.NewChain(&asin.AggregatorValidator{Client: audnexus}, nil, &asin.CatalogSearcher{Client: audible})

	var led *ledger.Ledger
	if l, err := ledger.Open(filepath.Join(cfg.Paths.CacheDir, "ledger.db")); err == nil {
		led = l
		defer led.Close()
	} else {
		log.Warn().Err(err).Msg("ledger unavailable, proceeding without run-history audit trail")
	}

	notifier := webhook.New(cfg.Retry.FailureWebhookURL)

	ctx := logger.NewContext(context.Background(), log)

	outcome, runErr := orchestrator.Run(ctx, orchestrator.Options{
		Cfg:             cfg,
		SourcePath:      absSource,
		Mode:            mode,
		CLIASINOverride: c.String("asin"),
		Force:           cfg.Flags.Force,
		DryRun:          cfg.Flags.DryRun,
		Manifests:       manifests,
		Ledger:          led,
		Notifier:        notifier,
		StageDeps: stage.Context{
			Runner:    runRunner,
			Prober:    prober,
			Encoder:   encoder,
			Tagger:    tagger,
			Audible:   audible,
			Audnexus:  audnexus,
			Cache:     metaCache,
			ASINChain: asinChain,
		},
	})

	if textfilePath := os.Getenv("METRICS_TEXTFILE_PATH"); textfilePath != "" {
		if err := metrics.WriteTextfile(textfilePath); err != nil {
			log.Warn().Err(err).Msg("failed to write metrics textfile")
		}
	}

	switch outcome {
	case orchestrator.OutcomeSuccess, orchestrator.OutcomeLockHeld:
		return nil
	case orchestrator.OutcomeQuarantined:
		return cli.Exit(runErr.Error(), exitPermanent)
	default:
		return cli.Exit(runErr.Error(), exitTransient)
	}
}

func parseMode(raw string) (manifest.Mode, error) {
	switch raw {
	case "", "convert":
		return manifest.ModeConvert, nil
	case "enrich":
		return manifest.ModeEnrich, nil
	case "metadata-only":
		return manifest.ModeMetadata, nil
	case "organize-only":
		return manifest.ModeOrganize, nil
	default:
		return "", fmt.Errorf("unknown --mode %q", raw)
	}
}
