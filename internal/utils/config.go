package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	DeviceAPI struct {
		Principal          string        `yaml:"principal"`            // Principal named in the Authorization header
		Secret             string        `yaml:"secret"`               // Shared signing secret
		SecretFile         string        `yaml:"secret_file"`          // File holding the signing secret, used when secret is empty
		Scheme             string        `yaml:"scheme"`               // https or http
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"` // Devices ship with self-signed certificates
		ControlTimeout     time.Duration `yaml:"control_timeout"`      // Per-attempt timeout for info/settings/reboot calls
		FirmwareTimeout    time.Duration `yaml:"firmware_timeout"`     // Per-attempt timeout for firmware uploads
		ClockOffset        time.Duration `yaml:"clock_offset"`         // Known skew applied to every first attempt
	} `yaml:"device_api"`

	Network struct {
		Netmask               string `yaml:"netmask"`
		Gateway               string `yaml:"gateway"`
		ProvisioningServerURL string `yaml:"provisioning_server_url"`
		Timezone              string `yaml:"timezone"` // Optional, e.g. America/New_York
	} `yaml:"network"`

	Timing struct {
		RebootGrace           time.Duration `yaml:"reboot_grace"`            // Unconditional wait after a reboot
		RebootOnlineTimeout   time.Duration `yaml:"reboot_online_timeout"`   // Total budget after a reboot, grace included
		FirmwareGrace         time.Duration `yaml:"firmware_grace"`          // Unconditional wait after a firmware upload
		FirmwareOnlineTimeout time.Duration `yaml:"firmware_online_timeout"` // Total budget after a firmware upload, grace included
		RetryInterval         time.Duration `yaml:"retry_interval"`          // Probe cadence once the grace interval is over
	} `yaml:"timing"`

	Firmware struct {
		Catalog     map[string]models.FirmwareEntry `yaml:"catalog"`      // Inline model -> target firmware map
		CatalogFile string                          `yaml:"catalog_file"` // YAML file with the same shape, used when catalog is empty
		Artifacts   struct {
			Source string `yaml:"source"` // local, http or s3
			Dir    string `yaml:"dir"`    // Directory of firmware images for the local source
			URL    string `yaml:"url"`    // Base URL of firmware images for the http source
			S3     struct {
				Endpoint  string `yaml:"endpoint"`
				AccessKey string `yaml:"access_key"`
				SecretKey string `yaml:"secret_key"`
				Bucket    string `yaml:"bucket"`
				Prefix    string `yaml:"prefix"`
				Region    string `yaml:"region"`
				UseSSL    bool   `yaml:"use_ssl"`
			} `yaml:"s3"`
		} `yaml:"artifacts"`
	} `yaml:"firmware"`

	Provisioning struct {
		ConfigBlob string `yaml:"config_blob"` // Path to the configuration blob pushed after firmware, optional
		DryRun     bool   `yaml:"dry_run"`     // Identify devices without changing them
		Workers    int    `yaml:"workers"`     // Devices provisioned concurrently; 1 keeps input order strictly
	} `yaml:"provisioning"`

	Logging struct {
		Level        string `yaml:"level"`  // zerolog level name
		Format       string `yaml:"format"` // console or json
		RejectionLog struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
		} `yaml:"rejection_log"`
	} `yaml:"logging"`

	Reporting struct {
		ReportFile string `yaml:"report_file"` // JSON outcome report rewritten after every device, optional
		MQTT       struct {
			Enabled       bool   `yaml:"enabled"`
			Broker        string `yaml:"broker"`         // MQTT broker address
			ClientID      string `yaml:"client_id"`      // MQTT client ID
			CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, optional
			Topic         string `yaml:"topic"`
			QOS           int    `yaml:"qos"`
		} `yaml:"mqtt"`
	} `yaml:"reporting"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.DeviceAPI.Principal = constants.DefaultPrincipal
	c.DeviceAPI.Scheme = constants.DefaultScheme
	c.DeviceAPI.InsecureSkipVerify = true
	c.DeviceAPI.ControlTimeout = constants.DefaultControlTimeout
	c.DeviceAPI.FirmwareTimeout = constants.DefaultFirmwareTimeout

	c.Network.Netmask = constants.DefaultNetmask

	c.Timing.RebootGrace = constants.DefaultRebootGrace
	c.Timing.RebootOnlineTimeout = constants.DefaultRebootOnlineTimeout
	c.Timing.FirmwareGrace = constants.DefaultFirmwareGrace
	c.Timing.FirmwareOnlineTimeout = constants.DefaultFirmwareOnlineTimeout
	c.Timing.RetryInterval = constants.DefaultRetryInterval

	c.Firmware.Artifacts.Source = constants.DefaultArtifactSource
	c.Firmware.Artifacts.Dir = constants.DefaultArtifactDir

	c.Provisioning.Workers = constants.DefaultWorkers

	c.Logging.Level = constants.DefaultLogLevel
	c.Logging.Format = constants.DefaultLogFormat
	c.Logging.RejectionLog.Path = constants.DefaultRejectionLog
	c.Logging.RejectionLog.MaxSizeMB = constants.DefaultRejectionLogMaxSizeMB
	c.Logging.RejectionLog.MaxBackups = constants.DefaultRejectionLogMaxBackups

	c.Reporting.MQTT.ClientID = constants.DefaultMQTTClientID
	c.Reporting.MQTT.Topic = constants.DefaultMQTTTopic
	return c
}

// LoadConfig loads the YAML configuration from the specified file on top of
// the defaults and resolves secret_file. It does not validate.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	config := DefaultConfig()
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.DeviceAPI.Secret == "" && config.DeviceAPI.SecretFile != "" {
		secret, err := fileClient.ReadFile(config.DeviceAPI.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		config.DeviceAPI.Secret = strings.TrimSpace(secret)
	}

	return &config, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DeviceAPI.Secret == "" {
		add("device_api: secret or secret_file is required")
	}
	if c.DeviceAPI.Principal == "" {
		add("device_api: principal is required")
	}
	if c.DeviceAPI.Scheme != "https" && c.DeviceAPI.Scheme != "http" {
		add("device_api: unsupported scheme %q", c.DeviceAPI.Scheme)
	}
	if c.DeviceAPI.ControlTimeout <= 0 || c.DeviceAPI.FirmwareTimeout <= 0 {
		add("device_api: timeouts must be positive")
	}

	if net.ParseIP(c.Network.Netmask) == nil {
		add("network: invalid netmask %q", c.Network.Netmask)
	}
	if net.ParseIP(c.Network.Gateway) == nil {
		add("network: invalid gateway %q", c.Network.Gateway)
	}
	if c.Network.ProvisioningServerURL != "" {
		if u, err := url.Parse(c.Network.ProvisioningServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("network: invalid provisioning_server_url %q", c.Network.ProvisioningServerURL)
		}
	}
	if c.Network.Timezone != "" {
		if _, err := time.LoadLocation(c.Network.Timezone); err != nil {
			add("network: unknown timezone %q", c.Network.Timezone)
		}
	}

	t := c.Timing
	if t.RebootGrace <= 0 || t.RebootOnlineTimeout <= 0 || t.FirmwareGrace <= 0 ||
		t.FirmwareOnlineTimeout <= 0 || t.RetryInterval <= 0 {
		add("timing: all values must be positive")
	}
	if t.RebootGrace >= t.RebootOnlineTimeout {
		add("timing: reboot_grace %s must be shorter than reboot_online_timeout %s", t.RebootGrace, t.RebootOnlineTimeout)
	}
	if t.FirmwareGrace >= t.FirmwareOnlineTimeout {
		add("timing: firmware_grace %s must be shorter than firmware_online_timeout %s", t.FirmwareGrace, t.FirmwareOnlineTimeout)
	}

	switch c.Firmware.Artifacts.Source {
	case "local":
		if c.Firmware.Artifacts.Dir == "" {
			add("firmware: artifacts.dir is required for the local source")
		}
	case "http":
		if c.Firmware.Artifacts.URL == "" {
			add("firmware: artifacts.url is required for the http source")
		}
	case "s3":
		s3 := c.Firmware.Artifacts.S3
		if s3.Endpoint == "" || s3.Bucket == "" {
			add("firmware: artifacts.s3 endpoint and bucket are required")
		}
	default:
		add("firmware: unknown artifacts.source %q", c.Firmware.Artifacts.Source)
	}

	if c.Provisioning.Workers < 1 {
		add("provisioning: workers must be at least 1")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		add("logging: invalid level %q", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		add("logging: format must be console or json")
	}

	if c.Reporting.MQTT.Enabled {
		if c.Reporting.MQTT.Broker == "" {
			add("reporting: mqtt.broker is required when mqtt is enabled")
		}
		if c.Reporting.MQTT.QOS < 0 || c.Reporting.MQTT.QOS > 2 {
			add("reporting: mqtt.qos must be 0, 1 or 2")
		}
	}

	return errors.Join(errs...)
}
