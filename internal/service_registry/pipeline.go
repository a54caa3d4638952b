package service_registry

import (
	"context"
	"fmt"

	"github.com/benmeehan/iot-provisioner/internal/services"
	"github.com/benmeehan/iot-provisioner/internal/state_managers"
	"github.com/benmeehan/iot-provisioner/internal/utils"
	"github.com/benmeehan/iot-provisioner/pkg/artifact"
	"github.com/benmeehan/iot-provisioner/pkg/catalog"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
	"github.com/benmeehan/iot-provisioner/pkg/deviceapi"
)

// Pipeline is everything a run needs once services are started.
type Pipeline struct {
	Batch   *services.BatchService
	Catalog *catalog.Catalog
	Sink    services.EventSink
}

// BuildPipeline wires the device client, firmware catalog, artifact store,
// poller, orchestrator and batch runner. StartServices must have been
// called first so the rejection log and MQTT reporter are live.
func (sr *ServiceRegistry) BuildPipeline(ctx context.Context, config *utils.Config, runID, configBlob string, clk clock.Clock) (*Pipeline, error) {
	if clk == nil {
		clk = clock.Real()
	}

	firmwareCatalog, err := sr.loadCatalog(config)
	if err != nil {
		return nil, err
	}
	sr.Logger.Info().Strs("models", firmwareCatalog.Models()).Msg("Loaded firmware catalog")

	store, err := sr.artifactStore(ctx, config)
	if err != nil {
		return nil, err
	}

	client := deviceapi.NewClient(deviceapi.NewHTTPClient(config.DeviceAPI.InsecureSkipVerify), deviceapi.Options{
		Scheme:          config.DeviceAPI.Scheme,
		Principal:       config.DeviceAPI.Principal,
		Secret:          []byte(config.DeviceAPI.Secret),
		ClockOffset:     config.DeviceAPI.ClockOffset,
		ControlTimeout:  config.DeviceAPI.ControlTimeout,
		FirmwareTimeout: config.DeviceAPI.FirmwareTimeout,
		Clock:           clk,
		Recorder:        sr.rejectionLog.Recorder(),
	}, sr.Logger.With().Str("component", "deviceapi").Logger())

	sink := services.MultiSink{services.NewLogReporter(sr.Logger)}
	if sr.reporting != nil {
		sink = append(sink, services.NewMQTTReporter(
			sr.reporting.Publisher(),
			config.Reporting.MQTT.Topic,
			byte(config.Reporting.MQTT.QOS),
			runID,
			sr.Logger,
		))
	}

	poller := services.NewPollerService(client, config.Timing.RetryInterval, clk, sink,
		sr.Logger.With().Str("component", "poller").Logger())

	provisioner := services.NewProvisioningService(client, firmwareCatalog, store, poller, sink, services.ProvisioningOptions{
		Network: services.NetworkProfile{
			Netmask:               config.Network.Netmask,
			Gateway:               config.Network.Gateway,
			ProvisioningServerURL: config.Network.ProvisioningServerURL,
			Timezone:              config.Network.Timezone,
		},
		Timing: services.Timing{
			RebootGrace:           config.Timing.RebootGrace,
			RebootOnlineTimeout:   config.Timing.RebootOnlineTimeout,
			FirmwareGrace:         config.Timing.FirmwareGrace,
			FirmwareOnlineTimeout: config.Timing.FirmwareOnlineTimeout,
		},
		ConfigBlob: configBlob,
		DryRun:     config.Provisioning.DryRun,
	}, clk, sr.Logger)

	var reports services.ReportStore
	if config.Reporting.ReportFile != "" {
		reports = state_managers.NewOutcomeStateManager(config.Reporting.ReportFile, sr.fileClient, sr.Logger)
	}

	return &Pipeline{
		Batch:   services.NewBatchService(provisioner, config.Provisioning.Workers, sink, reports, clk, sr.Logger),
		Catalog: firmwareCatalog,
		Sink:    sink,
	}, nil
}

func (sr *ServiceRegistry) loadCatalog(config *utils.Config) (*catalog.Catalog, error) {
	if len(config.Firmware.Catalog) > 0 {
		c, err := catalog.New(config.Firmware.Catalog)
		if err != nil {
			return nil, fmt.Errorf("firmware catalog: %w", err)
		}
		return c, nil
	}
	if config.Firmware.CatalogFile != "" {
		return catalog.LoadFile(config.Firmware.CatalogFile, sr.fileClient)
	}
	sr.Logger.Warn().Msg("Firmware catalog is empty, firmware updates are disabled")
	return catalog.New(nil)
}

func (sr *ServiceRegistry) artifactStore(ctx context.Context, config *utils.Config) (artifact.Store, error) {
	switch config.Firmware.Artifacts.Source {
	case "http":
		store, err := artifact.NewHTTPStore(config.Firmware.Artifacts.URL, config.DeviceAPI.FirmwareTimeout)
		if err != nil {
			return nil, err
		}
		sr.Logger.Info().Str("url", config.Firmware.Artifacts.URL).Msg("Downloading firmware artifacts over HTTP")
		return store, nil
	case "s3":
		s3 := config.Firmware.Artifacts.S3
		store, err := artifact.ConnectObjectStore(ctx, artifact.ObjectStoreConfig{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			Region:    s3.Region,
			UseSSL:    s3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		sr.Logger.Info().Str("endpoint", s3.Endpoint).Str("bucket", s3.Bucket).Msg("Using object storage for firmware artifacts")
		return store, nil
	default:
		sr.Logger.Info().Str("dir", config.Firmware.Artifacts.Dir).Msg("Using local directory for firmware artifacts")
		return artifact.NewLocalStore(config.Firmware.Artifacts.Dir, sr.fileClient), nil
	}
}
