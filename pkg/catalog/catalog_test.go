package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/catalog"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

func defaultEntries() map[string]models.FirmwareEntry {
	return map[string]models.FirmwareEntry{
		"Algo 8301 Paging Adapter":   {TargetVersion: "3.3.0", Artifact: "8301_v3.3.0.bin"},
		"Algo 8186 SIP Horn Speaker": {TargetVersion: "4.5.1", Artifact: "8186_v4.5.1.bin", UpgradeFrom: ">= 3.0.0"},
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c, err := catalog.New(defaultEntries())
	require.NoError(t, err)

	entry, ok := c.Lookup("Algo 8301 Paging Adapter")
	assert.True(t, ok)
	assert.Equal(t, "3.3.0", entry.TargetVersion)

	_, ok = c.Lookup("Algo 8188 Ceiling Speaker")
	assert.False(t, ok)

	assert.Equal(t, []string{"Algo 8186 SIP Horn Speaker", "Algo 8301 Paging Adapter"}, c.Models())
}

func TestCatalog_New_Validation(t *testing.T) {
	cases := map[string]map[string]models.FirmwareEntry{
		"bad version":    {"m": {TargetVersion: "3.x", Artifact: "a.bin"}},
		"missing file":   {"m": {TargetVersion: "3.3.0"}},
		"bad constraint": {"m": {TargetVersion: "3.3.0", Artifact: "a.bin", UpgradeFrom: ">= banana"}},
		"empty model":    {"": {TargetVersion: "3.3.0", Artifact: "a.bin"}},
	}
	for name, entries := range cases {
		_, err := catalog.New(entries)
		assert.Error(t, err, name)
	}
}

func TestCatalog_Decide(t *testing.T) {
	c, err := catalog.New(defaultEntries())
	require.NoError(t, err)

	d := c.Decide(models.DeviceInfo{Model: "Algo 8301 Paging Adapter", FirmwareVersion: "3.2.9"})
	assert.True(t, d.Known)
	assert.True(t, d.Update)
	assert.Equal(t, "8301_v3.3.0.bin", d.Entry.Artifact)

	d = c.Decide(models.DeviceInfo{Model: "Algo 8301 Paging Adapter", FirmwareVersion: "3.3"})
	assert.True(t, d.Known)
	assert.False(t, d.Update)

	d = c.Decide(models.DeviceInfo{Model: "Unknown Model", FirmwareVersion: "1.0"})
	assert.False(t, d.Known)
	assert.False(t, d.Update)
}

func TestCatalog_Decide_UpgradePathConstraint(t *testing.T) {
	c, err := catalog.New(defaultEntries())
	require.NoError(t, err)

	d := c.Decide(models.DeviceInfo{Model: "Algo 8186 SIP Horn Speaker", FirmwareVersion: "2.9.4"})
	assert.True(t, d.Known)
	assert.False(t, d.Update)
	assert.Contains(t, d.Reason, "upgrade path")

	d = c.Decide(models.DeviceInfo{Model: "Algo 8186 SIP Horn Speaker", FirmwareVersion: "4.4"})
	assert.True(t, d.Update)
}

func TestCatalog_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `"Algo 8301 Paging Adapter":
  version: 3.3.0
  file: 8301_v3.3.0.bin
  sha256: abc123
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	c, err := catalog.LoadFile(path, file.NewFileService())
	require.NoError(t, err)

	entry, ok := c.Lookup("Algo 8301 Paging Adapter")
	require.True(t, ok)
	assert.Equal(t, "3.3.0", entry.TargetVersion)
	assert.Equal(t, "abc123", entry.SHA256)
}
