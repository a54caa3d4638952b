package constants

// Phase is one ordered step of the per-device provisioning pipeline.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseIdentify        Phase = "identify"
	PhaseNetworkApplied  Phase = "network_applied"
	PhaseNetworkRebooted Phase = "network_rebooted"
	PhaseNetworkOnline   Phase = "network_online"
	PhaseFirmwareChecked Phase = "firmware_checked"
	PhaseFirmwareApplied Phase = "firmware_applied"
	PhaseFirmwareOnline  Phase = "firmware_online"
	PhaseConfigApplied   Phase = "config_applied"
	PhaseFinalRebooted   Phase = "final_rebooted"
	PhaseFinalOnline     Phase = "final_online"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
)

// EventType classifies entries of the orchestration event stream.
type EventType string

const (
	EventPhaseEntered   EventType = "phase_entered"
	EventPhaseCompleted EventType = "phase_completed"
	EventPhaseFailed    EventType = "phase_failed"
	EventProbeFailed    EventType = "probe_failed"
	EventFirmwareSkip   EventType = "firmware_skipped"
	EventDeviceDone     EventType = "device_done"
	EventInputWarning   EventType = "input_warning"
)

// Probe failure kinds, surfaced for operators only.
const (
	ProbeFailureAuth        = "auth"
	ProbeFailureUnreachable = "unreachable"
)
