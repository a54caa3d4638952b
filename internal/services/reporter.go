package services

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/mqtt"
)

// EventSink consumes the orchestration event stream. Implementations must
// not block for long and must not fail the pipeline.
type EventSink interface {
	Emit(event models.Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event models.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

// LogReporter writes events to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Emit(event models.Event) {
	var e *zerolog.Event
	switch event.Type {
	case constants.EventPhaseFailed:
		e = r.logger.Error()
	case constants.EventProbeFailed, constants.EventInputWarning:
		e = r.logger.Warn()
	case constants.EventDeviceDone:
		if event.Fields["succeeded"] == "true" {
			e = r.logger.Info()
		} else {
			e = r.logger.Error()
		}
	case constants.EventPhaseEntered:
		e = r.logger.Debug()
	default:
		e = r.logger.Info()
	}

	e = e.Str("event", string(event.Type))
	if event.Address != "" {
		e = e.Str("address", event.Address)
	}
	if event.Phase != "" {
		e = e.Str("phase", string(event.Phase))
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = e.Str(k, event.Fields[k])
	}

	e.Msg(event.Message)
}

// MQTTReporter publishes each event as JSON to an MQTT topic.
type MQTTReporter struct {
	publisher mqtt.Publisher
	topic     string
	qos       byte
	runID     string
	logger    zerolog.Logger
}

// NewMQTTReporter creates an MQTTReporter that stamps every event with runID.
func NewMQTTReporter(publisher mqtt.Publisher, topic string, qos byte, runID string, logger zerolog.Logger) *MQTTReporter {
	return &MQTTReporter{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		runID:     runID,
		logger:    logger,
	}
}

func (r *MQTTReporter) Emit(event models.Event) {
	if event.RunID == "" {
		event.RunID = r.runID
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to encode event")
		return
	}
	if err := r.publisher.Publish(r.topic, r.qos, payload); err != nil {
		r.logger.Warn().Err(err).Str("topic", r.topic).Msg("Failed to publish event")
	}
}
