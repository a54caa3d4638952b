// Package audit keeps the append-only rejection log: one JSON line per
// failed device API attempt.
//
// Every entry is encoded into a single buffer and handed to the writer in
// one Write call, so entries from concurrent retry paths never interleave
// and no read-modify-write of the file ever happens. Recording never
// returns an error; a broken log must not stop provisioning.
package audit

import (
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/benmeehan/iot-provisioner/internal/models"
)

// RejectionRecorder receives failed attempts from the device API client.
type RejectionRecorder interface {
	Record(entry models.RejectionEntry)
}

// RejectionLog writes rejection entries as JSON lines.
type RejectionLog struct {
	writer io.Writer
	closer io.Closer
	logger zerolog.Logger
}

// NewRejectionLog opens (or creates) the log at path, rotating it once it
// grows past maxSizeMB and keeping maxBackups old files.
func NewRejectionLog(path string, maxSizeMB, maxBackups int) *RejectionLog {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  false,
	}
	l := NewRejectionLogWriter(w)
	l.closer = w
	return l
}

// NewRejectionLogWriter writes entries to an arbitrary writer.
func NewRejectionLogWriter(w io.Writer) *RejectionLog {
	return &RejectionLog{
		writer: w,
		logger: zerolog.New(zerolog.SyncWriter(w)),
	}
}

// Record appends entry to the log.
func (l *RejectionLog) Record(entry models.RejectionEntry) {
	if l == nil {
		return
	}
	l.logger.Log().
		Time("ts", entry.Timestamp).
		Str("host", entry.Address).
		Str("method", entry.Method).
		Str("path", entry.Path).
		Str("status", entry.Status).
		Str("msg", entry.Message).
		Int("attempt", entry.Attempt).
		Send()
}

// Close releases the underlying file, if any.
func (l *RejectionLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// NopRecorder discards every entry.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(models.RejectionEntry) {}
