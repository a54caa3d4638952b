package constants

import "time"

// Defaults applied when the configuration file leaves a value unset.
const (
	DefaultPrincipal       = "admin"
	DefaultScheme          = "https"
	DefaultControlTimeout  = 10 * time.Second
	DefaultFirmwareTimeout = 120 * time.Second

	DefaultNetmask = "255.255.255.0"

	DefaultRebootGrace           = 90 * time.Second
	DefaultRebootOnlineTimeout   = 330 * time.Second
	DefaultFirmwareGrace         = 180 * time.Second
	DefaultFirmwareOnlineTimeout = 420 * time.Second
	DefaultRetryInterval         = 3 * time.Second

	DefaultArtifactSource = "local"
	DefaultArtifactDir    = "firmware"

	DefaultDeviceListFile = "ip_speakers.txt"
	DefaultWorkers        = 1

	DefaultRejectionLog           = "rejections.log"
	DefaultRejectionLogMaxSizeMB  = 10
	DefaultRejectionLogMaxBackups = 5

	DefaultMQTTTopic    = "provisioner/events"
	DefaultMQTTClientID = "iot-provisioner"

	DefaultConfigFile = "configs/config.yaml"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
)
