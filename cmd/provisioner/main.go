package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/benmeehan/iot-provisioner/internal/inputs"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/internal/service_registry"
	"github.com/benmeehan/iot-provisioner/internal/utils"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// Exit codes.
const (
	exitOK           = 0
	exitDeviceFailed = 1
	exitConfigError  = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func configError(format string, args ...any) error {
	return &exitError{code: exitConfigError, err: fmt.Errorf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		code := exitDeviceFailed
		var coder *exitError
		if errors.As(err, &coder) {
			code = coder.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(code)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{code: exitConfigError, err: err}
	}
	if opts.help {
		opts.usage(stdout)
		return nil
	}

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(opts.configPath, fileClient)
	if err != nil {
		return configError("failed to load configuration %s: %w", opts.configPath, err)
	}
	opts.apply(config)
	if err := config.Validate(); err != nil {
		return configError("invalid configuration:\n%w", err)
	}

	runID := uuid.NewString()
	logger, err := newLogger(config.Logging.Format, config.Logging.Level, stderr)
	if err != nil {
		return configError("%w", err)
	}
	logger = logger.With().Str("run_id", runID).Logger()

	targets, warnings, err := inputs.LoadDeviceList(opts.devicesPath, fileClient)
	if err != nil {
		return configError("%w", err)
	}
	for _, w := range warnings {
		logger.Warn().Int("line", w.Line).Str("text", w.Text).Msg("Skipping device list line: " + w.Reason)
	}

	configBlob, err := inputs.LoadConfigBlob(config.Provisioning.ConfigBlob, fileClient)
	if err != nil {
		return configError("%w", err)
	}
	if config.Provisioning.ConfigBlob != "" && configBlob == "" {
		logger.Warn().Str("path", config.Provisioning.ConfigBlob).Msg("Configuration blob not found, config push will be skipped")
	}

	registry := service_registry.NewServiceRegistry(fileClient, logger)
	if err := registry.RegisterServices(config, runID); err != nil {
		return configError("%w", err)
	}
	if err := registry.StartServices(); err != nil {
		return configError("%w", err)
	}
	defer func() {
		if err := registry.StopServices(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop services cleanly")
		}
	}()

	pipeline, err := registry.BuildPipeline(ctx, config, runID, configBlob, nil)
	if err != nil {
		return configError("%w", err)
	}

	summary := pipeline.Batch.Run(ctx, runID, targets, warnings, config.Provisioning.DryRun)
	printSummary(stdout, summary)

	if summary.Failed > 0 {
		return &exitError{
			code: exitDeviceFailed,
			err:  fmt.Errorf("%d of %d devices failed", summary.Failed, summary.Failed+summary.Succeeded),
		}
	}
	return nil
}

func newLogger(format, level string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var w io.Writer = out
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func printSummary(w io.Writer, summary models.RunSummary) {
	mode := ""
	if summary.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "\nProvisioning run %s%s\n", summary.RunID, mode)
	for _, o := range summary.Outcomes {
		if o.Succeeded {
			fmt.Fprintf(w, "  OK    %-21s -> %-15s %s %s\n", o.Address, o.DesiredAddress, o.Model, o.FirmwareVersion)
			continue
		}
		phase := ""
		if o.FailedPhase != "" {
			phase = " [" + string(o.FailedPhase) + "]"
		}
		fmt.Fprintf(w, "  FAIL  %-21s -> %-15s%s %s\n", o.Address, o.DesiredAddress, phase, o.FailureReason)
	}
	for _, warn := range summary.Warnings {
		fmt.Fprintf(w, "  SKIP  line %d: %s (%s)\n", warn.Line, warn.Text, warn.Reason)
	}
	fmt.Fprintf(w, "Succeeded: %d  Failed: %d  Skipped lines: %d\n", summary.Succeeded, summary.Failed, len(summary.Warnings))
}
