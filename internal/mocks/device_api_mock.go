package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/iot-provisioner/internal/models"
)

// MockDeviceAPI is a mock implementation of the deviceapi.DeviceAPI interface
type MockDeviceAPI struct {
	mock.Mock
}

func (m *MockDeviceAPI) GetInfo(ctx context.Context, address string) (models.DeviceInfo, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(models.DeviceInfo), args.Error(1)
}

func (m *MockDeviceAPI) ApplySettings(ctx context.Context, address string, settings map[string]string) error {
	args := m.Called(ctx, address, settings)
	return args.Error(0)
}

func (m *MockDeviceAPI) PushConfig(ctx context.Context, address string, blob string) error {
	args := m.Called(ctx, address, blob)
	return args.Error(0)
}

func (m *MockDeviceAPI) Reboot(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *MockDeviceAPI) UploadFirmware(ctx context.Context, address string, image []byte) error {
	args := m.Called(ctx, address, image)
	return args.Error(0)
}

// MockOnlineWaiter is a mock implementation of the services.OnlineWaiter interface
type MockOnlineWaiter struct {
	mock.Mock
}

func (m *MockOnlineWaiter) WaitOnline(ctx context.Context, address string, grace, total time.Duration) (models.DeviceInfo, error) {
	args := m.Called(ctx, address, grace, total)
	return args.Get(0).(models.DeviceInfo), args.Error(1)
}

// MockProvisioner is a mock implementation of the services.Provisioner interface
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, target models.DeviceTarget) (models.PipelineOutcome, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(models.PipelineOutcome), args.Error(1)
}

// MockStore is a mock implementation of the artifact.Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Open(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// EventRecorder is an EventSink that keeps every event for inspection.
type EventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *EventRecorder) Emit(event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}
