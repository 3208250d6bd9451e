package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/mattn/go-isatty"
	stackdriver "github.com/tommy351/zap-stackdriver"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsm-dshonuyi/ETL-Project/cmd"
)

const (
	// exitFail is the exit code if the program
	// fails.
	exitFail = 1
	// exitSuccess is the exit code if the program succeeds.
	exitSuccess = 0
)

// https://pace.dev/blog/2020/02/12/why-you-shouldnt-use-func-main-in-golang-by-mat-ryer
func main() {
	isTerminal := isatty.IsTerminal(os.Stdout.Fd()) ||
		isatty.IsCygwinTerminal(os.Stdout.Fd())

	var level zap.AtomicLevel
	if os.Getenv("DEBUG") != "" {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	var l *zap.Logger
	var err error
	if isTerminal {
		config := zap.NewDevelopmentConfig()
		config.Level = level
		l, err = config.Build()
	} else {
		config := &zap.Config{
			Level:            level,
			Encoding:         "json",
			EncoderConfig:    stackdriver.EncoderConfig,
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
		l, err = config.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &stackdriver.Core{
				Core: core,
			}
		}), zap.Fields(
			stackdriver.LogServiceContext(&stackdriver.ServiceContext{
				Service: "etl-project",
				Version: getGitBuildVersion(),
			}),
		))
	}
	if err != nil {
		panic(err)
	}

	// set GOMAXPROCS based on container limits
	undo, err := maxprocs.Set()
	defer undo()
	if err != nil {
		l.Fatal("failed to set GOMAXPROCS:", zap.Error(err))
	}

	// pass all arguments without the executable name
	if err := cmd.Run(l, os.Args[1:]); err != nil {
		l.Error(fmt.Sprintf("%+v\n", err), zap.Error(err))
		os.Exit(exitFail)
	}
	l.Info("Successful completion")
	os.Exit(exitSuccess)
}

func getGitBuildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return "unknown"
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}
