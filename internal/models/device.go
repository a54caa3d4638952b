package models

import (
	"net"

	"github.com/benmeehan/iot-provisioner/internal/constants"
)

// DeviceTarget is one record of the device list: where the device answers
// now and where it should answer after provisioning.
type DeviceTarget struct {
	CurrentAddress string `json:"current_address"`
	DesiredAddress string `json:"desired_address"`
	Line           int    `json:"line,omitempty"` // source line in the device list, 0 when unknown
}

// ChangesAddress reports whether provisioning moves the device.
func (t DeviceTarget) ChangesAddress() bool {
	return t.CurrentAddress != t.DesiredAddress
}

// DesiredIP is the desired address without a port. DesiredAddress keeps
// the port for dialling; the device itself is only ever given the IP.
func (t DeviceTarget) DesiredIP() string {
	if host, _, err := net.SplitHostPort(t.DesiredAddress); err == nil {
		return host
	}
	return t.DesiredAddress
}

// DeviceInfo is the identity a device reports about itself. It is fetched
// fresh at every checkpoint and never cached across phases.
type DeviceInfo struct {
	Model           string `json:"Product Name"`
	FirmwareVersion string `json:"Firmware Version"`
}

// FirmwareEntry is the catalog target for one device model.
type FirmwareEntry struct {
	TargetVersion string `yaml:"version" json:"version"`
	Artifact      string `yaml:"file" json:"file"`
	SHA256        string `yaml:"sha256,omitempty" json:"sha256,omitempty"`             // optional artifact checksum
	UpgradeFrom   string `yaml:"upgrade_from,omitempty" json:"upgrade_from,omitempty"` // optional semver constraint on the running version
}

// NetworkSettings is the static addressing pushed to a device before its
// first reboot.
type NetworkSettings struct {
	Mode                  string
	Address               string
	Netmask               string
	Gateway               string
	ProvisioningServerURL string
	Timezone              string
}

// NewStaticNetworkSettings builds the settings that move target to its
// desired address.
func NewStaticNetworkSettings(target DeviceTarget, netmask, gateway, provisioningServerURL, timezone string) NetworkSettings {
	return NetworkSettings{
		Mode:                  constants.IPv4ModeStatic,
		Address:               target.DesiredIP(),
		Netmask:               netmask,
		Gateway:               gateway,
		ProvisioningServerURL: provisioningServerURL,
		Timezone:              timezone,
	}
}

// Payload flattens the settings into the dotted keys of PUT /api/settings.
// Empty optional values are left out.
func (n NetworkSettings) Payload() map[string]string {
	payload := map[string]string{
		constants.KeyIPv4Mode:    n.Mode,
		constants.KeyIPv4Address: n.Address,
		constants.KeyIPv4Netmask: n.Netmask,
	}
	if n.Gateway != "" {
		payload[constants.KeyIPv4Gateway] = n.Gateway
	}
	if n.ProvisioningServerURL != "" {
		payload[constants.KeyProvServerURL] = n.ProvisioningServerURL
	}
	if n.Timezone != "" {
		payload[constants.KeyAdminTimezone] = n.Timezone
	}
	return payload
}
