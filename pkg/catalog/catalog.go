// Package catalog maps device models to the firmware they should run.
package catalog

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// Decision is the firmware verdict for one device.
type Decision struct {
	Entry  models.FirmwareEntry
	Known  bool // the model has a catalog entry
	Update bool
	Reason string
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries     map[string]models.FirmwareEntry
	upgradeFrom map[string]*semver.Constraints
}

// New validates entries and builds a Catalog. Keys are model names exactly
// as devices report them in "Product Name".
func New(entries map[string]models.FirmwareEntry) (*Catalog, error) {
	c := &Catalog{
		entries:     make(map[string]models.FirmwareEntry, len(entries)),
		upgradeFrom: make(map[string]*semver.Constraints),
	}
	for model, entry := range entries {
		if model == "" {
			return nil, fmt.Errorf("catalog entry with empty model name")
		}
		if _, err := ParseVersion(entry.TargetVersion); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", model, err)
		}
		if entry.Artifact == "" {
			return nil, fmt.Errorf("catalog entry %q: missing firmware file", model)
		}
		if entry.UpgradeFrom != "" {
			constraint, err := semver.NewConstraint(entry.UpgradeFrom)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %q: invalid upgrade_from constraint %q: %w", model, entry.UpgradeFrom, err)
			}
			c.upgradeFrom[model] = constraint
		}
		c.entries[model] = entry
	}
	return c, nil
}

// LoadFile reads a YAML map of model -> entry.
func LoadFile(path string, fileClient file.FileOperations) (*Catalog, error) {
	var entries map[string]models.FirmwareEntry
	if err := fileClient.ReadYamlFile(path, &entries); err != nil {
		return nil, fmt.Errorf("failed to read firmware catalog %s: %w", path, err)
	}
	return New(entries)
}

// Lookup returns the entry for model. Unknown models are not an error.
func (c *Catalog) Lookup(model string) (models.FirmwareEntry, bool) {
	entry, ok := c.entries[model]
	return entry, ok
}

// Models lists the known models in sorted order.
func (c *Catalog) Models() []string {
	out := make([]string, 0, len(c.entries))
	for m := range c.entries {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// UpgradeAllowed reports whether a device of model running current may be
// flashed directly to the catalog target. Entries without an upgrade_from
// constraint allow every version.
func (c *Catalog) UpgradeAllowed(model, current string) (bool, error) {
	constraint, ok := c.upgradeFrom[model]
	if !ok {
		return true, nil
	}
	v, err := semver.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("running version %q cannot be checked against %q: %w", current, c.entries[model].UpgradeFrom, err)
	}
	return constraint.Check(v), nil
}

// Decide works out whether info describes a device that needs flashing.
func (c *Catalog) Decide(info models.DeviceInfo) Decision {
	entry, ok := c.Lookup(info.Model)
	if !ok {
		return Decision{Reason: "no catalog entry for model"}
	}
	d := Decision{Entry: entry, Known: true}
	if !IsOlder(info.FirmwareVersion, entry.TargetVersion) {
		d.Reason = "firmware up to date"
		return d
	}
	allowed, err := c.UpgradeAllowed(info.Model, info.FirmwareVersion)
	if err != nil {
		d.Reason = err.Error()
		return d
	}
	if !allowed {
		d.Reason = fmt.Sprintf("running version %s does not satisfy upgrade path %s", info.FirmwareVersion, entry.UpgradeFrom)
		return d
	}
	d.Update = true
	d.Reason = fmt.Sprintf("firmware %s older than %s", info.FirmwareVersion, entry.TargetVersion)
	return d
}
