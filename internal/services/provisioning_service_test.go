package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/mocks"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/internal/services"
	"github.com/benmeehan/iot-provisioner/pkg/artifact"
	"github.com/benmeehan/iot-provisioner/pkg/catalog"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
	"github.com/benmeehan/iot-provisioner/pkg/deviceapi"
)

const (
	pagingAdapter = "Algo 8301 Paging Adapter"
	hornSpeaker   = "Algo 8186 SIP Horn Speaker"
	currentAddr   = "10.4.170.21"
	desiredAddr   = "10.4.172.21"
)

var testTiming = services.Timing{
	RebootGrace:           90 * time.Second,
	RebootOnlineTimeout:   330 * time.Second,
	FirmwareGrace:         180 * time.Second,
	FirmwareOnlineTimeout: 420 * time.Second,
}

var testNetwork = services.NetworkProfile{
	Netmask:               "255.255.255.0",
	Gateway:               "10.4.172.1",
	ProvisioningServerURL: "http://10.4.170.10:8080/",
	Timezone:              "America/New_York",
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(map[string]models.FirmwareEntry{
		pagingAdapter: {TargetVersion: "3.3.0", Artifact: "8301_v3.3.0.bin"},
		hornSpeaker:   {TargetVersion: "4.5.1", Artifact: "8186_v4.5.1.bin"},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	api    *mocks.MockDeviceAPI
	waiter *mocks.MockOnlineWaiter
	store  *mocks.MockStore
	events *mocks.EventRecorder
}

func newFixture() *fixture {
	return &fixture{
		api:    new(mocks.MockDeviceAPI),
		waiter: new(mocks.MockOnlineWaiter),
		store:  new(mocks.MockStore),
		events: &mocks.EventRecorder{},
	}
}

func (f *fixture) service(t *testing.T, opts services.ProvisioningOptions) *services.ProvisioningService {
	if opts.Timing == (services.Timing{}) {
		opts.Timing = testTiming
	}
	if opts.Network == (services.NetworkProfile{}) {
		opts.Network = testNetwork
	}
	return services.NewProvisioningService(f.api, testCatalog(t), f.store, f.waiter, f.events, opts, clock.Fake(t0), zerolog.Nop())
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.api.AssertExpectations(t)
	f.waiter.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

// completedPhases lists the phases in the order they completed.
func completedPhases(events []models.Event) []constants.Phase {
	var phases []constants.Phase
	for _, e := range events {
		if e.Type == constants.EventPhaseCompleted {
			phases = append(phases, e.Phase)
		}
	}
	return phases
}

func eventsOfType(events []models.Event, typ constants.EventType) []models.Event {
	var out []models.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var target = models.DeviceTarget{CurrentAddress: currentAddr, DesiredAddress: desiredAddr, Line: 1}

func TestProvisioningService_FullPipelineWithFirmwareAndConfig(t *testing.T) {
	f := newFixture()
	old := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.2.1"}
	updated := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.3.0"}
	image := []byte("firmware image")

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(old, nil).Once()
	f.api.On("ApplySettings", mock.Anything, currentAddr, map[string]string{
		constants.KeyIPv4Mode:      constants.IPv4ModeStatic,
		constants.KeyIPv4Address:   desiredAddr,
		constants.KeyIPv4Netmask:   "255.255.255.0",
		constants.KeyIPv4Gateway:   "10.4.172.1",
		constants.KeyProvServerURL: "http://10.4.170.10:8080/",
		constants.KeyAdminTimezone: "America/New_York",
	}).Return(nil).Once()
	f.api.On("Reboot", mock.Anything, currentAddr).Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 90*time.Second, 330*time.Second).Return(old, nil).Once()
	f.api.On("GetInfo", mock.Anything, desiredAddr).Return(old, nil).Once()
	f.store.On("Open", mock.Anything, "8301_v3.3.0.bin").Return(image, nil).Once()
	f.api.On("UploadFirmware", mock.Anything, desiredAddr, image).Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 180*time.Second, 420*time.Second).Return(updated, nil).Once()
	f.api.On("PushConfig", mock.Anything, desiredAddr, "sip.server = 10.4.170.5").Return(nil).Once()
	f.api.On("Reboot", mock.Anything, desiredAddr).Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 90*time.Second, 330*time.Second).Return(updated, nil).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{ConfigBlob: "sip.server = 10.4.170.5"}).
		Provision(context.Background(), target)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded)
	assert.True(t, outcome.FirmwareUpdated)
	assert.True(t, outcome.ConfigApplied)
	assert.Equal(t, pagingAdapter, outcome.Model)
	assert.Equal(t, "3.3.0", outcome.FirmwareVersion)
	assert.Equal(t, currentAddr, outcome.Address)
	assert.Equal(t, desiredAddr, outcome.DesiredAddress)

	events := f.events.Events()
	assert.Equal(t, []constants.Phase{
		constants.PhaseIdentify,
		constants.PhaseNetworkApplied,
		constants.PhaseNetworkRebooted,
		constants.PhaseNetworkOnline,
		constants.PhaseFirmwareChecked,
		constants.PhaseFirmwareApplied,
		constants.PhaseFirmwareOnline,
		constants.PhaseConfigApplied,
		constants.PhaseFinalRebooted,
		constants.PhaseFinalOnline,
	}, completedPhases(events))

	done := eventsOfType(events, constants.EventDeviceDone)
	require.Len(t, done, 1)
	assert.Equal(t, "true", done[0].Fields["succeeded"])
	assert.Equal(t, constants.PhaseDone, done[0].Phase)

	f.assertExpectations(t)
}

func TestProvisioningService_UnknownModelSkipsFirmware(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: "Algo 8028 Doorphone", FirmwareVersion: "1.0"}

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(info, nil).Once()
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.Anything).Return(nil).Once()
	f.api.On("Reboot", mock.Anything, currentAddr).Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 90*time.Second, 330*time.Second).Return(info, nil).Twice()
	f.api.On("GetInfo", mock.Anything, desiredAddr).Return(info, nil).Once()
	f.api.On("Reboot", mock.Anything, desiredAddr).Return(nil).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{}).Provision(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.FirmwareUpdated)
	assert.False(t, outcome.ConfigApplied)

	events := f.events.Events()
	assert.Equal(t, []constants.Phase{
		constants.PhaseIdentify,
		constants.PhaseNetworkApplied,
		constants.PhaseNetworkRebooted,
		constants.PhaseNetworkOnline,
		constants.PhaseFirmwareChecked,
		constants.PhaseFinalRebooted,
		constants.PhaseFinalOnline,
	}, completedPhases(events))

	skipped := eventsOfType(events, constants.EventFirmwareSkip)
	require.Len(t, skipped, 1)
	assert.Equal(t, "no catalog entry for model", skipped[0].Message)

	f.api.AssertNotCalled(t, "UploadFirmware", mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "PushConfig", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestProvisioningService_UpToDateFirmwareIsSkipped(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: hornSpeaker, FirmwareVersion: "4.10"}

	f.api.On("GetInfo", mock.Anything, mock.Anything).Return(info, nil)
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.Anything).Return(nil)
	f.api.On("Reboot", mock.Anything, mock.Anything).Return(nil)
	f.api.On("PushConfig", mock.Anything, desiredAddr, "blob").Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, mock.Anything, mock.Anything).Return(info, nil)

	outcome, err := f.service(t, services.ProvisioningOptions{ConfigBlob: "blob"}).Provision(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, outcome.FirmwareUpdated)
	assert.True(t, outcome.ConfigApplied)

	skipped := eventsOfType(f.events.Events(), constants.EventFirmwareSkip)
	require.Len(t, skipped, 1)
	assert.Equal(t, "firmware up to date", skipped[0].Message)
	assert.Equal(t, "4.5.1", skipped[0].Fields["target_version"])
	f.api.AssertNotCalled(t, "UploadFirmware", mock.Anything, mock.Anything, mock.Anything)
}

func TestProvisioningService_NetworkOnlineTimeoutFailsDevice(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.2.1"}
	timeout := fmt.Errorf("%w: %s after 5m30s", services.ErrOnlineWaitTimeout, desiredAddr)

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(info, nil).Once()
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.Anything).Return(nil).Once()
	f.api.On("Reboot", mock.Anything, currentAddr).Return(nil).Once()
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 90*time.Second, 330*time.Second).
		Return(models.DeviceInfo{}, timeout).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{ConfigBlob: "blob"}).Provision(context.Background(), target)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrOnlineWaitTimeout)

	var pe *services.PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, constants.PhaseNetworkOnline, pe.Phase)
	assert.Equal(t, currentAddr, pe.Address)

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, constants.PhaseNetworkOnline, outcome.FailedPhase)
	assert.Contains(t, outcome.FailureReason, "did not come online")

	failed := eventsOfType(f.events.Events(), constants.EventPhaseFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, constants.PhaseNetworkOnline, failed[0].Phase)

	f.api.AssertNotCalled(t, "GetInfo", mock.Anything, desiredAddr)
	f.api.AssertNotCalled(t, "PushConfig", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestProvisioningService_IdentifyFailureAbortsImmediately(t *testing.T) {
	f := newFixture()
	f.api.On("GetInfo", mock.Anything, currentAddr).
		Return(models.DeviceInfo{}, fmt.Errorf("%w: connection refused", deviceapi.ErrNetworkUnreachable)).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{}).Provision(context.Background(), target)
	assert.ErrorIs(t, err, services.ErrIdentifyFailed)
	assert.ErrorIs(t, err, deviceapi.ErrNetworkUnreachable)
	assert.Equal(t, constants.PhaseIdentify, outcome.FailedPhase)
	assert.Empty(t, completedPhases(f.events.Events()))

	f.api.AssertNotCalled(t, "ApplySettings", mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "Reboot", mock.Anything, mock.Anything)
}

func TestProvisioningService_MissingArtifactFailsFirmwarePhase(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.2.1"}

	f.api.On("GetInfo", mock.Anything, mock.Anything).Return(info, nil)
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.Anything).Return(nil)
	f.api.On("Reboot", mock.Anything, currentAddr).Return(nil)
	f.waiter.On("WaitOnline", mock.Anything, desiredAddr, 90*time.Second, 330*time.Second).Return(info, nil).Once()
	f.store.On("Open", mock.Anything, "8301_v3.3.0.bin").
		Return(nil, fmt.Errorf("%w: firmware/8301_v3.3.0.bin", artifact.ErrArtifactMissing)).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{ConfigBlob: "blob"}).Provision(context.Background(), target)
	assert.ErrorIs(t, err, artifact.ErrArtifactMissing)
	assert.Equal(t, constants.PhaseFirmwareApplied, outcome.FailedPhase)

	f.api.AssertNotCalled(t, "UploadFirmware", mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "PushConfig", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestProvisioningService_SameAddressStillRunsNetworkPhases(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: "Algo 8028 Doorphone", FirmwareVersion: "1.0"}
	same := models.DeviceTarget{CurrentAddress: currentAddr, DesiredAddress: currentAddr}

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(info, nil).Twice()
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.MatchedBy(func(s map[string]string) bool {
		return s[constants.KeyIPv4Address] == currentAddr
	})).Return(nil).Once()
	f.api.On("Reboot", mock.Anything, currentAddr).Return(nil).Twice()
	f.waiter.On("WaitOnline", mock.Anything, currentAddr, 90*time.Second, 330*time.Second).Return(info, nil).Twice()

	outcome, err := f.service(t, services.ProvisioningOptions{}).Provision(context.Background(), same)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	f.assertExpectations(t)
}

func TestProvisioningService_DryRunChangesNothing(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.2.1"}

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(info, nil).Once()
	f.store.On("Open", mock.Anything, "8301_v3.3.0.bin").Return([]byte("img"), nil).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{DryRun: true, ConfigBlob: "blob"}).
		Provision(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.FirmwareUpdated)
	assert.Equal(t, []constants.Phase{constants.PhaseIdentify}, completedPhases(f.events.Events()))

	f.api.AssertNotCalled(t, "ApplySettings", mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "Reboot", mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "UploadFirmware", mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "PushConfig", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestProvisioningService_ArtifactFetchedOncePerRun(t *testing.T) {
	f := newFixture()
	info := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.2.1"}
	image := []byte("img")

	f.api.On("GetInfo", mock.Anything, mock.Anything).Return(info, nil)
	f.api.On("ApplySettings", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.api.On("Reboot", mock.Anything, mock.Anything).Return(nil)
	f.api.On("UploadFirmware", mock.Anything, mock.Anything, image).Return(nil)
	f.waiter.On("WaitOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(info, nil)
	f.store.On("Open", mock.Anything, "8301_v3.3.0.bin").Return(image, nil).Once()

	svc := f.service(t, services.ProvisioningOptions{})
	for _, addr := range []string{"10.4.170.21", "10.4.170.22"} {
		_, err := svc.Provision(context.Background(), models.DeviceTarget{CurrentAddress: addr, DesiredAddress: addr})
		require.NoError(t, err)
	}

	f.store.AssertNumberOfCalls(t, "Open", 1)
	f.api.AssertNumberOfCalls(t, "UploadFirmware", 2)
}

func TestProvisioningService_CancelledContextFailsCurrentPhase(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	info := models.DeviceInfo{Model: pagingAdapter, FirmwareVersion: "3.3.0"}

	f.api.On("GetInfo", mock.Anything, currentAddr).Return(info, nil).Once()
	f.api.On("ApplySettings", mock.Anything, currentAddr, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).Return(nil).Once()

	outcome, err := f.service(t, services.ProvisioningOptions{}).Provision(ctx, target)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, constants.PhaseNetworkRebooted, outcome.FailedPhase)
	f.api.AssertNotCalled(t, "Reboot", mock.Anything, mock.Anything)
}
