// Package inputs reads the operator-supplied device list and config blob.
package inputs

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// ParseDeviceList reads one "currentAddress[,desiredAddress]" record per
// line. Blank lines and lines starting with # are ignored. Malformed lines
// become warnings and never abort parsing.
func ParseDeviceList(r io.Reader) ([]models.DeviceTarget, []models.InputWarning, error) {
	var targets []models.DeviceTarget
	var warnings []models.InputWarning

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if lineNo == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		target, reason := parseLine(text)
		if reason != "" {
			warnings = append(warnings, models.InputWarning{Line: lineNo, Text: text, Reason: reason})
			continue
		}
		target.Line = lineNo
		targets = append(targets, target)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read device list: %w", err)
	}

	return targets, warnings, nil
}

func parseLine(text string) (models.DeviceTarget, string) {
	// Fields after the desired address are ignored.
	fields := strings.Split(text, ",")

	current := strings.TrimSpace(fields[0])
	if current == "" {
		return models.DeviceTarget{}, "missing current address"
	}
	if strings.ContainsAny(current, " \t/") {
		return models.DeviceTarget{}, fmt.Sprintf("invalid current address %q", current)
	}

	desired := current
	if len(fields) >= 2 {
		if d := strings.TrimSpace(fields[1]); d != "" {
			desired = d
		}
	}
	if !isIPAddress(desired) {
		return models.DeviceTarget{}, fmt.Sprintf("desired address %q is not an IP address", desired)
	}

	return models.DeviceTarget{CurrentAddress: current, DesiredAddress: desired}, ""
}

// isIPAddress accepts an IP literal with an optional port.
func isIPAddress(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return net.ParseIP(host) != nil
}

// LoadDeviceList parses the device list at path.
func LoadDeviceList(path string, fileClient file.FileOperations) ([]models.DeviceTarget, []models.InputWarning, error) {
	content, err := fileClient.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read device list %s: %w", path, err)
	}
	return ParseDeviceList(strings.NewReader(content))
}

// LoadConfigBlob returns the configuration blob at path. An empty path or a
// missing file yields an empty blob, which skips the config push.
func LoadConfigBlob(path string, fileClient file.FileOperations) (string, error) {
	if path == "" {
		return "", nil
	}
	exists, err := fileClient.IsFileExists(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat config blob %s: %w", path, err)
	}
	if !exists {
		return "", nil
	}
	blob, err := fileClient.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config blob %s: %w", path, err)
	}
	return blob, nil
}
