package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/utils"
)

// options holds the command line. Flags that were set override the
// configuration file.
type options struct {
	configPath  string
	devicesPath string
	configBlob  string
	dryRun      bool
	workers     int
	logLevel    string
	logFormat   string
	report      string
	help        bool

	flagSet *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("provisioner", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)

	flagSet.StringVarP(&opts.configPath, "config", "c", constants.DefaultConfigFile, "path to the YAML configuration file")
	flagSet.StringVarP(&opts.devicesPath, "devices", "d", constants.DefaultDeviceListFile, "device list, one current[,desired] address per line")
	flagSet.StringVar(&opts.configBlob, "config-blob", "", "configuration blob pushed to every device (overrides provisioning.config_blob)")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "identify devices and report planned changes without applying them")
	flagSet.IntVarP(&opts.workers, "workers", "w", constants.DefaultWorkers, "devices provisioned concurrently")
	flagSet.StringVar(&opts.logLevel, "log-level", constants.DefaultLogLevel, "trace, debug, info, warn or error")
	flagSet.StringVar(&opts.logFormat, "log-format", constants.DefaultLogFormat, "console or json")
	flagSet.StringVar(&opts.report, "report", "", "write a JSON outcome report to this file")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	opts.flagSet = flagSet
	return opts, nil
}

// apply copies every flag the operator set onto config.
func (o *options) apply(config *utils.Config) {
	changed := o.flagSet.Changed
	if changed("config-blob") {
		config.Provisioning.ConfigBlob = o.configBlob
	}
	if changed("dry-run") {
		config.Provisioning.DryRun = o.dryRun
	}
	if changed("workers") {
		config.Provisioning.Workers = o.workers
	}
	if changed("log-level") {
		config.Logging.Level = o.logLevel
	}
	if changed("log-format") {
		config.Logging.Format = o.logFormat
	}
	if changed("report") {
		config.Reporting.ReportFile = o.report
	}
}

func (o *options) usage(w io.Writer) {
	fmt.Fprintf(w, `provisioner moves paging endpoints to static addresses, updates their
firmware and pushes a final configuration.

Usage:
  provisioner [flags]

Flags:
%s`, o.flagSet.FlagUsages())
}
