package cmd

import (
	"context"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/pipeline"
)

// Run parses the command line, loads the configuration and executes the
// pipeline. args is os.Args without the executable name.
func Run(logger *zap.Logger, args []string) error {
	flags := pflag.NewFlagSet("etl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml",
		"path to the pipeline configuration file")
	extractOnly := flags.Bool("extract-only", false,
		"run only the extraction phase and persist raw datasets")
	transformOnly := flags.Bool("transform-only", false,
		"run only the transformation phase over previously extracted datasets")
	loadOnly := flags.Bool("load-only", false,
		"run only the loading phase over previously transformed datasets")
	if err := flags.Parse(args); err != nil {
		return etlerr.Wrap(etlerr.ErrConfiguration, err, "parsing command line")
	}

	phases, err := selectPhases(*extractOnly, *transformOnly, *loadOnly)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", zap.String("path", *configPath))

	return pipeline.New(logger, cfg).Run(context.Background(), phases)
}

// selectPhases maps the mutually exclusive phase flags onto a phase
// selection; no flag means a full run.
func selectPhases(extractOnly, transformOnly, loadOnly bool) (pipeline.Phases, error) {
	set := 0
	for _, b := range []bool{extractOnly, transformOnly, loadOnly} {
		if b {
			set++
		}
	}
	if set > 1 {
		return pipeline.Phases{}, etlerr.Wrap(etlerr.ErrConfiguration, nil,
			"at most one of --extract-only, --transform-only and --load-only may be set")
	}
	switch {
	case extractOnly:
		return pipeline.Phases{Extract: true}, nil
	case transformOnly:
		return pipeline.Phases{Transform: true}, nil
	case loadOnly:
		return pipeline.Phases{Load: true}, nil
	default:
		return pipeline.All(), nil
	}
}
