package service_registry

import (
	"fmt"

	"github.com/benmeehan/iot-provisioner/pkg/audit"
	"github.com/benmeehan/iot-provisioner/pkg/file"
	"github.com/benmeehan/iot-provisioner/pkg/mqtt"
)

// RejectionLogService owns the rotating rejection log file.
type RejectionLogService struct {
	path       string
	maxSizeMB  int
	maxBackups int
	log        *audit.RejectionLog
}

// NewRejectionLogService creates the service; the file is opened by Start.
func NewRejectionLogService(path string, maxSizeMB, maxBackups int) *RejectionLogService {
	return &RejectionLogService{path: path, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
}

func (s *RejectionLogService) Start() error {
	s.log = audit.NewRejectionLog(s.path, s.maxSizeMB, s.maxBackups)
	return nil
}

func (s *RejectionLogService) Stop() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

// Recorder returns the log, or a recorder that drops entries before Start.
func (s *RejectionLogService) Recorder() audit.RejectionRecorder {
	if s == nil || s.log == nil {
		return audit.NopRecorder{}
	}
	return s.log
}

// ReportingService owns the MQTT connection used to publish events.
type ReportingService struct {
	broker     string
	clientID   string
	caCertPath string
	client     *mqtt.MqttService
}

// NewReportingService creates the service; the broker is dialled by Start.
func NewReportingService(broker, clientID, caCertPath string, fileClient file.FileOperations) *ReportingService {
	return &ReportingService{
		broker:     broker,
		clientID:   clientID,
		caCertPath: caCertPath,
		client:     mqtt.NewMqttService(fileClient),
	}
}

func (s *ReportingService) Start() error {
	if err := s.client.Initialize(s.broker, s.clientID, s.caCertPath); err != nil {
		return fmt.Errorf("mqtt %s: %w", s.broker, err)
	}
	return nil
}

func (s *ReportingService) Stop() error {
	s.client.Close()
	return nil
}

// Publisher returns the connected client.
func (s *ReportingService) Publisher() mqtt.Publisher {
	return s.client
}
