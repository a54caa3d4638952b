package models

import (
	"time"

	"github.com/benmeehan/iot-provisioner/internal/constants"
)

// PipelineOutcome records how provisioning ended for one device.
type PipelineOutcome struct {
	Address         string          `json:"address"`
	DesiredAddress  string          `json:"desired_address"`
	Succeeded       bool            `json:"succeeded"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	FailedPhase     constants.Phase `json:"failed_phase,omitempty"`
	Model           string          `json:"model,omitempty"`
	FirmwareVersion string          `json:"firmware_version,omitempty"` // last version the device reported
	FirmwareUpdated bool            `json:"firmware_updated"`
	ConfigApplied   bool            `json:"config_applied"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
}

// InputWarning is a device list line that was skipped before orchestration.
type InputWarning struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// RunSummary aggregates every outcome of one batch run.
type RunSummary struct {
	RunID      string            `json:"run_id"`
	DryRun     bool              `json:"dry_run"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Outcomes   []PipelineOutcome `json:"outcomes"`
	Warnings   []InputWarning    `json:"warnings,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Record adds an outcome and updates the tallies.
func (s *RunSummary) Record(o PipelineOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Succeeded {
		s.Succeeded++
	} else {
		s.Failed++
	}
}
