package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/internal/utils"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
)

// ReportStore persists the run report as it grows.
type ReportStore interface {
	SaveState(summary models.RunSummary) error
}

// BatchService runs the provisioning pipeline over a device list and
// isolates per-device failures.
type BatchService struct {
	provisioner Provisioner
	workers     int
	sink        EventSink
	reports     ReportStore
	clock       clock.Clock
	logger      zerolog.Logger
}

// NewBatchService creates a BatchService. Devices run one at a time in
// input order unless workers is greater than one. reports may be nil.
func NewBatchService(provisioner Provisioner, workers int, sink EventSink, reports ReportStore, clk clock.Clock, logger zerolog.Logger) *BatchService {
	if workers < 1 {
		workers = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &BatchService{
		provisioner: provisioner,
		workers:     workers,
		sink:        sink,
		reports:     reports,
		clock:       clk,
		logger:      logger,
	}
}

// batchRun is the state of one Run call.
type batchRun struct {
	mu       sync.Mutex
	summary  models.RunSummary
	outcomes []*models.PipelineOutcome
}

// Run provisions every target and returns the aggregated summary. It always
// returns a summary covering every accepted target: devices that were not
// started before ctx ended are recorded as cancelled.
func (b *BatchService) Run(ctx context.Context, runID string, targets []models.DeviceTarget, warnings []models.InputWarning, dryRun bool) models.RunSummary {
	accepted, rejected := b.claim(targets)

	run := &batchRun{
		summary: models.RunSummary{
			RunID:     runID,
			DryRun:    dryRun,
			Warnings:  append(append([]models.InputWarning(nil), warnings...), rejected...),
			StartedAt: b.clock.Now(),
		},
		outcomes: make([]*models.PipelineOutcome, len(accepted)),
	}
	for _, w := range rejected {
		emit(b.sink, b.clock, models.Event{
			Type:    constants.EventInputWarning,
			Message: w.Reason,
			Fields:  map[string]string{"line": strconv.Itoa(w.Line), "text": w.Text},
		})
	}

	b.logger.Info().
		Int("devices", len(accepted)).
		Int("warnings", len(run.summary.Warnings)).
		Int("workers", b.workers).
		Bool("dry_run", dryRun).
		Msg("Starting provisioning run")

	if b.workers == 1 || len(accepted) <= 1 {
		for i, target := range accepted {
			b.record(run, i, b.provisionOne(ctx, target))
		}
	} else {
		pool := utils.NewWorkerPool(min(b.workers, len(accepted)), b.logger)
		for i, target := range accepted {
			pool.Submit(func() {
				b.record(run, i, b.provisionOne(ctx, target))
			})
		}
		pool.Shutdown()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	summary := run.snapshot()
	summary.FinishedAt = b.clock.Now()
	b.save(summary)

	b.logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Provisioning run finished")

	return summary
}

// claim drops targets whose current or desired address was already named
// by an earlier line, so settings are applied at most once per device.
func (b *BatchService) claim(targets []models.DeviceTarget) ([]models.DeviceTarget, []models.InputWarning) {
	claimed := cmap.New[int]()
	var accepted []models.DeviceTarget
	var rejected []models.InputWarning

	for _, target := range targets {
		addresses := []string{target.CurrentAddress}
		if target.ChangesAddress() {
			addresses = append(addresses, target.DesiredAddress)
		}

		conflict := ""
		for _, addr := range addresses {
			if line, ok := claimed.Get(addr); ok {
				conflict = fmt.Sprintf("address %s already claimed by line %d", addr, line)
				break
			}
		}
		if conflict != "" {
			b.logger.Warn().Int("line", target.Line).Str("address", target.CurrentAddress).Msg(conflict)
			rejected = append(rejected, models.InputWarning{
				Line:   target.Line,
				Text:   target.CurrentAddress + "," + target.DesiredAddress,
				Reason: conflict,
			})
			continue
		}

		for _, addr := range addresses {
			claimed.Set(addr, target.Line)
		}
		accepted = append(accepted, target)
	}

	return accepted, rejected
}

// provisionOne runs a single device and converts every failure, panics
// included, into an outcome.
func (b *BatchService) provisionOne(ctx context.Context, target models.DeviceTarget) (outcome models.PipelineOutcome) {
	if err := ctx.Err(); err != nil {
		return models.PipelineOutcome{
			Address:        target.CurrentAddress,
			DesiredAddress: target.DesiredAddress,
			FailureReason:  fmt.Sprintf("%v: %v", ErrCancelled, err),
			FailedPhase:    constants.PhasePending,
			StartedAt:      b.clock.Now(),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("address", target.CurrentAddress).Interface("panic", r).Msg("Recovered from panic while provisioning")
			outcome = models.PipelineOutcome{
				Address:        target.CurrentAddress,
				DesiredAddress: target.DesiredAddress,
				FailureReason:  fmt.Sprintf("internal error: %v", r),
				StartedAt:      b.clock.Now(),
			}
		}
	}()

	outcome, err := b.provisioner.Provision(ctx, target)
	if err != nil {
		outcome.Succeeded = false
		if outcome.FailureReason == "" {
			outcome.FailureReason = err.Error()
		}
		var pe *PhaseError
		if errors.As(err, &pe) && outcome.FailedPhase == "" {
			outcome.FailedPhase = pe.Phase
		}
		if outcome.Address == "" {
			outcome.Address = target.CurrentAddress
			outcome.DesiredAddress = target.DesiredAddress
		}
	}
	return outcome
}

func (b *BatchService) record(run *batchRun, index int, outcome models.PipelineOutcome) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.outcomes[index] = &outcome
	b.save(run.snapshot())
}

// snapshot builds a summary from the outcomes recorded so far, in input
// order. The caller holds run.mu.
func (r *batchRun) snapshot() models.RunSummary {
	summary := r.summary
	summary.Outcomes = nil
	summary.Succeeded, summary.Failed = 0, 0
	for _, o := range r.outcomes {
		if o != nil {
			summary.Record(*o)
		}
	}
	return summary
}

func (b *BatchService) save(summary models.RunSummary) {
	if b.reports == nil {
		return
	}
	if err := b.reports.SaveState(summary); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to save run report")
	}
}
