package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/artifact"
	"github.com/benmeehan/iot-provisioner/pkg/catalog"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
	"github.com/benmeehan/iot-provisioner/pkg/deviceapi"
)

// FirmwarePolicy decides whether a device needs a firmware update.
type FirmwarePolicy interface {
	Decide(info models.DeviceInfo) catalog.Decision
}

// Provisioner runs the provisioning pipeline for one device.
type Provisioner interface {
	Provision(ctx context.Context, target models.DeviceTarget) (models.PipelineOutcome, error)
}

// NetworkProfile holds the site-wide part of the static network settings.
type NetworkProfile struct {
	Netmask               string
	Gateway               string
	ProvisioningServerURL string
	Timezone              string
}

// Timing holds the grace intervals and online-wait budgets. Each timeout
// includes its grace interval.
type Timing struct {
	RebootGrace           time.Duration
	RebootOnlineTimeout   time.Duration
	FirmwareGrace         time.Duration
	FirmwareOnlineTimeout time.Duration
}

// ProvisioningOptions configures a ProvisioningService.
type ProvisioningOptions struct {
	Network    NetworkProfile
	Timing     Timing
	ConfigBlob string
	DryRun     bool
}

// validTransitions lists, for each completed phase, the phases that may follow it.
var validTransitions = map[constants.Phase][]constants.Phase{
	constants.PhasePending:         {constants.PhaseIdentify},
	constants.PhaseIdentify:        {constants.PhaseNetworkApplied, constants.PhaseDone},
	constants.PhaseNetworkApplied:  {constants.PhaseNetworkRebooted},
	constants.PhaseNetworkRebooted: {constants.PhaseNetworkOnline},
	constants.PhaseNetworkOnline:   {constants.PhaseFirmwareChecked},
	constants.PhaseFirmwareChecked: {constants.PhaseFirmwareApplied, constants.PhaseConfigApplied, constants.PhaseFinalRebooted},
	constants.PhaseFirmwareApplied: {constants.PhaseFirmwareOnline},
	constants.PhaseFirmwareOnline:  {constants.PhaseConfigApplied, constants.PhaseFinalRebooted},
	constants.PhaseConfigApplied:   {constants.PhaseFinalRebooted},
	constants.PhaseFinalRebooted:   {constants.PhaseFinalOnline},
	constants.PhaseFinalOnline:     {constants.PhaseDone},
	constants.PhaseDone:            {},
	constants.PhaseFailed:          {},
}

// isValidTransition checks if the transition between phases is valid
func isValidTransition(from, to constants.Phase) bool {
	validPhases, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, validPhase := range validPhases {
		if to == validPhase {
			return true
		}
	}
	return false
}

// ProvisioningService sequences network change, firmware update and
// configuration push for a device.
type ProvisioningService struct {
	api       deviceapi.DeviceAPI
	firmware  FirmwarePolicy
	artifacts artifact.Store
	waiter    OnlineWaiter
	sink      EventSink
	opts      ProvisioningOptions
	clock     clock.Clock
	logger    zerolog.Logger

	// verified firmware images by artifact name
	images cmap.ConcurrentMap[string, []byte]
}

// NewProvisioningService creates a ProvisioningService.
func NewProvisioningService(
	api deviceapi.DeviceAPI,
	firmware FirmwarePolicy,
	artifacts artifact.Store,
	waiter OnlineWaiter,
	sink EventSink,
	opts ProvisioningOptions,
	clk clock.Clock,
	logger zerolog.Logger,
) *ProvisioningService {
	if clk == nil {
		clk = clock.Real()
	}
	return &ProvisioningService{
		api:       api,
		firmware:  firmware,
		artifacts: artifacts,
		waiter:    waiter,
		sink:      sink,
		opts:      opts,
		clock:     clk,
		logger:    logger,
		images:    cmap.New[[]byte](),
	}
}

// pipeline is the per-device state of one Provision call.
type pipeline struct {
	svc     *ProvisioningService
	target  models.DeviceTarget
	state   constants.Phase
	outcome models.PipelineOutcome
	logger  zerolog.Logger
}

// Provision runs every phase for target in order. The returned outcome is
// always populated; the error, when set, is a *PhaseError.
func (s *ProvisioningService) Provision(ctx context.Context, target models.DeviceTarget) (models.PipelineOutcome, error) {
	p := &pipeline{
		svc:    s,
		target: target,
		state:  constants.PhasePending,
		outcome: models.PipelineOutcome{
			Address:        target.CurrentAddress,
			DesiredAddress: target.DesiredAddress,
			StartedAt:      s.clock.Now(),
		},
		logger: s.logger.With().Str("address", target.CurrentAddress).Str("desired", target.DesiredAddress).Logger(),
	}

	err := p.run(ctx)

	p.outcome.Duration = s.clock.Now().Sub(p.outcome.StartedAt)
	p.outcome.Succeeded = err == nil
	if err != nil {
		p.outcome.FailureReason = err.Error()
		if pe, ok := err.(*PhaseError); ok {
			p.outcome.FailedPhase = pe.Phase
			p.outcome.FailureReason = pe.Err.Error()
		}
	}

	s.emit(models.Event{
		Type:    constants.EventDeviceDone,
		Address: target.CurrentAddress,
		Phase:   p.state,
		Message: p.outcome.FailureReason,
		Fields: map[string]string{
			"succeeded":        strconv.FormatBool(p.outcome.Succeeded),
			"desired":          target.DesiredAddress,
			"firmware_updated": strconv.FormatBool(p.outcome.FirmwareUpdated),
			"duration":         p.outcome.Duration.String(),
		},
	})

	return p.outcome, err
}

func (p *pipeline) run(ctx context.Context) error {
	s := p.svc
	current, desired := p.target.CurrentAddress, p.target.DesiredAddress

	var identity models.DeviceInfo
	err := p.step(ctx, constants.PhaseIdentify, func(ctx context.Context) error {
		info, err := s.api.GetInfo(ctx, current)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIdentifyFailed, err)
		}
		identity = info
		p.observe(info)
		return nil
	})
	if err != nil {
		return err
	}

	if s.opts.DryRun {
		return p.dryRun(ctx, identity)
	}

	settings := models.NewStaticNetworkSettings(p.target, s.opts.Network.Netmask, s.opts.Network.Gateway,
		s.opts.Network.ProvisioningServerURL, s.opts.Network.Timezone)

	if err := p.step(ctx, constants.PhaseNetworkApplied, func(ctx context.Context) error {
		return s.api.ApplySettings(ctx, current, settings.Payload())
	}); err != nil {
		return err
	}

	if err := p.step(ctx, constants.PhaseNetworkRebooted, func(ctx context.Context) error {
		return s.api.Reboot(ctx, current)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, constants.PhaseNetworkOnline, func(ctx context.Context) error {
		return p.waitOnline(ctx, desired, s.opts.Timing.RebootGrace, s.opts.Timing.RebootOnlineTimeout)
	}); err != nil {
		return err
	}

	var decision catalog.Decision
	if err := p.step(ctx, constants.PhaseFirmwareChecked, func(ctx context.Context) error {
		info, err := s.api.GetInfo(ctx, desired)
		if err != nil {
			return err
		}
		p.observe(info)
		decision = s.firmware.Decide(info)
		if !decision.Update {
			p.firmwareSkipped(decision)
		}
		return nil
	}); err != nil {
		return err
	}

	if decision.Update {
		if err := p.step(ctx, constants.PhaseFirmwareApplied, func(ctx context.Context) error {
			image, err := s.image(ctx, decision.Entry)
			if err != nil {
				return err
			}
			p.logger.Info().
				Str("artifact", decision.Entry.Artifact).
				Str("target_version", decision.Entry.TargetVersion).
				Int("bytes", len(image)).
				Msg("Uploading firmware")
			return s.api.UploadFirmware(ctx, desired, image)
		}); err != nil {
			return err
		}

		if err := p.step(ctx, constants.PhaseFirmwareOnline, func(ctx context.Context) error {
			return p.waitOnline(ctx, desired, s.opts.Timing.FirmwareGrace, s.opts.Timing.FirmwareOnlineTimeout)
		}); err != nil {
			return err
		}
		p.outcome.FirmwareUpdated = true
	}

	if s.opts.ConfigBlob != "" {
		if err := p.step(ctx, constants.PhaseConfigApplied, func(ctx context.Context) error {
			return s.api.PushConfig(ctx, desired, s.opts.ConfigBlob)
		}); err != nil {
			return err
		}
		p.outcome.ConfigApplied = true
	} else {
		p.logger.Info().Msg("No configuration blob, skipping config push")
	}

	if err := p.step(ctx, constants.PhaseFinalRebooted, func(ctx context.Context) error {
		return s.api.Reboot(ctx, desired)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, constants.PhaseFinalOnline, func(ctx context.Context) error {
		return p.waitOnline(ctx, desired, s.opts.Timing.RebootGrace, s.opts.Timing.RebootOnlineTimeout)
	}); err != nil {
		return err
	}

	return p.advance(constants.PhaseDone)
}

// dryRun reports what would be done to a device and mutates nothing.
func (p *pipeline) dryRun(ctx context.Context, identity models.DeviceInfo) error {
	s := p.svc
	settings := models.NewStaticNetworkSettings(p.target, s.opts.Network.Netmask, s.opts.Network.Gateway,
		s.opts.Network.ProvisioningServerURL, s.opts.Network.Timezone)
	payload := settings.Payload()

	decision := s.firmware.Decide(identity)
	if decision.Update {
		if _, err := s.image(ctx, decision.Entry); err != nil {
			p.logger.Warn().Err(err).Str("artifact", decision.Entry.Artifact).Msg("Dry run: firmware artifact unavailable")
		}
	} else {
		p.firmwareSkipped(decision)
	}

	p.logger.Info().
		Str("model", identity.Model).
		Str("firmware", identity.FirmwareVersion).
		Interface("settings", payload).
		Bool("firmware_update", decision.Update).
		Str("firmware_reason", decision.Reason).
		Bool("config_push", s.opts.ConfigBlob != "").
		Msg("Dry run: no changes made")

	return p.advance(constants.PhaseDone)
}

// step runs fn as phase, validating the transition and emitting events.
func (p *pipeline) step(ctx context.Context, phase constants.Phase, fn func(ctx context.Context) error) error {
	if !isValidTransition(p.state, phase) {
		return p.fail(phase, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, phase))
	}
	if err := ctx.Err(); err != nil {
		return p.fail(phase, err)
	}

	p.svc.emit(models.Event{Type: constants.EventPhaseEntered, Address: p.target.CurrentAddress, Phase: phase})
	started := p.svc.clock.Now()

	if err := fn(ctx); err != nil {
		return p.fail(phase, err)
	}

	p.state = phase
	p.svc.emit(models.Event{
		Type:    constants.EventPhaseCompleted,
		Address: p.target.CurrentAddress,
		Phase:   phase,
		Fields:  map[string]string{"duration": p.svc.clock.Now().Sub(started).String()},
	})
	return nil
}

// advance moves to a phase that has no work of its own.
func (p *pipeline) advance(phase constants.Phase) error {
	if !isValidTransition(p.state, phase) {
		return p.fail(phase, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, phase))
	}
	p.state = phase
	return nil
}

func (p *pipeline) fail(phase constants.Phase, err error) error {
	p.logger.Error().Err(err).Str("phase", string(phase)).Msg("Provisioning failed")
	p.svc.emit(models.Event{
		Type:    constants.EventPhaseFailed,
		Address: p.target.CurrentAddress,
		Phase:   phase,
		Message: err.Error(),
	})
	p.state = constants.PhaseFailed
	return &PhaseError{Phase: phase, Address: p.target.CurrentAddress, Err: err}
}

func (p *pipeline) waitOnline(ctx context.Context, address string, grace, total time.Duration) error {
	info, err := p.svc.waiter.WaitOnline(ctx, address, grace, total)
	if err != nil {
		return err
	}
	p.observe(info)
	return nil
}

// observe records the latest identity the device reported.
func (p *pipeline) observe(info models.DeviceInfo) {
	if info.Model != "" {
		p.outcome.Model = info.Model
	}
	if info.FirmwareVersion != "" {
		p.outcome.FirmwareVersion = info.FirmwareVersion
	}
}

func (p *pipeline) firmwareSkipped(decision catalog.Decision) {
	fields := map[string]string{"model": p.outcome.Model, "version": p.outcome.FirmwareVersion}
	if decision.Known {
		fields["target_version"] = decision.Entry.TargetVersion
	}
	p.svc.emit(models.Event{
		Type:    constants.EventFirmwareSkip,
		Address: p.target.CurrentAddress,
		Phase:   constants.PhaseFirmwareChecked,
		Message: decision.Reason,
		Fields:  fields,
	})
}

// image returns the verified firmware image for entry, fetching it once per run.
func (s *ProvisioningService) image(ctx context.Context, entry models.FirmwareEntry) ([]byte, error) {
	if data, ok := s.images.Get(entry.Artifact); ok {
		return data, nil
	}
	if s.artifacts == nil {
		return nil, fmt.Errorf("%w: no artifact store configured", artifact.ErrArtifactMissing)
	}
	data, err := artifact.Fetch(ctx, s.artifacts, entry)
	if err != nil {
		return nil, err
	}
	s.images.Set(entry.Artifact, data)
	return data, nil
}

func (s *ProvisioningService) emit(event models.Event) {
	emit(s.sink, s.clock, event)
}
