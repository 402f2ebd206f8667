package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/woozymasta/densitygrid/internal/config"
	"github.com/woozymasta/densitygrid/internal/logger"
	"github.com/woozymasta/densitygrid/internal/observability"
	"github.com/woozymasta/densitygrid/internal/processor"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile     string   `short:"c" long:"config"           env:"CONFIG_FILE"      description:"Path to configuration file" default:"config.yaml"`
	Limit          []string `short:"l" long:"limit"            env:"LIMIT_NAMES"      description:"Limit processing to specific region names"`
	OutputDir      string   `short:"o" long:"output"           env:"OUTPUT_DIR"       description:"Override the output directory of the configuration"`
	Concurrency    int      `short:"p" long:"concurrency"      env:"CONCURRENCY"      description:"Regions processed in parallel" default:"2"`
	Force          bool     `short:"f" long:"force"            description:"Rebuild regions that already have a manifest"`
	MetricsFile    string   `short:"m" long:"metrics-textfile" env:"METRICS_TEXTFILE" description:"Write Prometheus metrics in textfile format to this path"`
	ValidateConfig bool     `long:"validate"                   description:"Validate the configuration and exit"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.ValidateConfig {
		log.Info().Int("regions", len(cfg.Regions)).Msg("Configuration is valid")
		return
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	runOpts, err := processor.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	runOpts.Concurrency = opts.Concurrency
	runOpts.Force = opts.Force

	// Filter regions if limit is set
	regions := cfg.Regions
	if len(opts.Limit) > 0 {
		regions = make([]config.Region, 0, len(opts.Limit))
		seen := make(map[string]bool)

		for _, name := range opts.Limit {
			if seen[name] {
				continue
			}
			seen[name] = true

			if r, ok := cfg.Region(name); ok {
				regions = append(regions, r)
			} else {
				log.Error().
					Str("name", name).
					Msg("Region specified in --limit not found in configuration")
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	runErr := processor.New(runOpts, metrics, nil).Run(ctx, regions)

	if opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(opts.MetricsFile); err != nil {
			log.Error().Err(err).Str("path", opts.MetricsFile).Msg("Failed to write metrics textfile")
		}
	}

	if runErr != nil {
		stop()
		log.Fatal().Err(runErr).Msg("Density grid run failed")
	}
}
