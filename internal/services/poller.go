package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
	"github.com/benmeehan/iot-provisioner/pkg/deviceapi"
)

// InfoProber fetches device identity. It doubles as the liveness probe.
type InfoProber interface {
	GetInfo(ctx context.Context, address string) (models.DeviceInfo, error)
}

// OnlineWaiter waits for a device to answer at an address after a disruptive operation.
type OnlineWaiter interface {
	WaitOnline(ctx context.Context, address string, grace, total time.Duration) (models.DeviceInfo, error)
}

// PollerService implements OnlineWaiter by probing the device info endpoint.
type PollerService struct {
	prober        InfoProber
	retryInterval time.Duration
	clock         clock.Clock
	sink          EventSink
	logger        zerolog.Logger
}

// NewPollerService creates a PollerService.
func NewPollerService(prober InfoProber, retryInterval time.Duration, clk clock.Clock, sink EventSink, logger zerolog.Logger) *PollerService {
	if clk == nil {
		clk = clock.Real()
	}
	if retryInterval <= 0 {
		retryInterval = constants.DefaultRetryInterval
	}
	return &PollerService{
		prober:        prober,
		retryInterval: retryInterval,
		clock:         clk,
		sink:          sink,
		logger:        logger,
	}
}

// WaitOnline sleeps the full grace interval, then probes address every
// retry interval until a probe succeeds or total (grace included) has
// elapsed. At least one probe is always made. The final probe happens no
// later than the deadline.
func (p *PollerService) WaitOnline(ctx context.Context, address string, grace, total time.Duration) (models.DeviceInfo, error) {
	start := p.clock.Now()
	deadline := start.Add(total)

	p.logger.Info().Str("address", address).Dur("grace", grace).Dur("timeout", total).Msg("Waiting for device to come back online")

	if err := clock.Sleep(ctx, p.clock, grace); err != nil {
		return models.DeviceInfo{}, err
	}

	for attempt := 1; ; attempt++ {
		probeCtx, cancel := p.probeContext(ctx, deadline, attempt == 1)
		info, err := p.prober.GetInfo(probeCtx, address)
		cancel()
		if err == nil {
			p.logger.Info().
				Str("address", address).
				Int("attempt", attempt).
				Dur("elapsed", p.clock.Now().Sub(start)).
				Msg("Device is online")
			return info, nil
		}
		if ctx.Err() != nil {
			return models.DeviceInfo{}, ctx.Err()
		}

		kind := constants.ProbeFailureUnreachable
		if deviceapi.IsAuthRejected(err) {
			kind = constants.ProbeFailureAuth
		}
		emit(p.sink, p.clock, models.Event{
			Type:    constants.EventProbeFailed,
			Address: address,
			Message: err.Error(),
			Fields: map[string]string{
				"kind":    kind,
				"attempt": fmt.Sprint(attempt),
			},
		})

		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return models.DeviceInfo{}, fmt.Errorf("%w: %s after %s (%d probes, last: %v)",
				ErrOnlineWaitTimeout, address, total, attempt, err)
		}
		if err := clock.Sleep(ctx, p.clock, min(p.retryInterval, remaining)); err != nil {
			return models.DeviceInfo{}, err
		}
	}
}

// probeContext bounds a probe by the time left until deadline. A first
// probe made after the deadline only gets the caller's context, so the
// guaranteed probe still runs under the client's own timeout.
func (p *PollerService) probeContext(ctx context.Context, deadline time.Time, first bool) (context.Context, context.CancelFunc) {
	remaining := deadline.Sub(p.clock.Now())
	if first && remaining <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, remaining)
}

// emit stamps the event time and forwards it to sink when one is set.
func emit(sink EventSink, clk clock.Clock, event models.Event) {
	if sink == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = clk.Now()
	}
	sink.Emit(event)
}
