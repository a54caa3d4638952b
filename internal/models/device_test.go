package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
)

func TestDeviceTarget_DesiredIP(t *testing.T) {
	tests := []struct {
		desired string
		want    string
	}{
		{"10.4.172.50", "10.4.172.50"},
		{"10.4.172.50:8443", "10.4.172.50"},
		{"[fd00::50]:8443", "fd00::50"},
		{"fd00::50", "fd00::50"},
	}
	for _, tt := range tests {
		target := models.DeviceTarget{CurrentAddress: "10.4.170.21", DesiredAddress: tt.desired}
		assert.Equal(t, tt.want, target.DesiredIP(), tt.desired)
	}
}

func TestNewStaticNetworkSettings_PayloadCarriesNoPort(t *testing.T) {
	target := models.DeviceTarget{CurrentAddress: "10.4.170.21:8443", DesiredAddress: "10.4.172.50:8443"}

	payload := models.NewStaticNetworkSettings(target, "255.255.255.0", "10.4.172.1", "", "").Payload()

	assert.Equal(t, "10.4.172.50", payload[constants.KeyIPv4Address])
	assert.Equal(t, constants.IPv4ModeStatic, payload[constants.KeyIPv4Mode])
	assert.Equal(t, "10.4.172.1", payload[constants.KeyIPv4Gateway])
	assert.NotContains(t, payload, constants.KeyProvServerURL)
	assert.Equal(t, "10.4.172.50:8443", target.DesiredAddress)
}
