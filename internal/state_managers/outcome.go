package state_managers

import (
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// OutcomeStateManager handles file-based persistence of the run report
type OutcomeStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewOutcomeStateManager initializes a new OutcomeStateManager
func NewOutcomeStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *OutcomeStateManager {
	return &OutcomeStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
	}
}

// LoadState reads the last saved run report. A missing file yields an empty summary.
func (sm *OutcomeStateManager) LoadState() (models.RunSummary, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var summary models.RunSummary
	if err := sm.fileClient.ReadJsonFile(sm.filePath, &summary); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.RunSummary{}, nil
		}
		sm.logger.Error().Err(err).Msg("Failed to read report file")
		return models.RunSummary{}, err
	}
	return summary, nil
}

// SaveState replaces the report file with summary
func (sm *OutcomeStateManager) SaveState(summary models.RunSummary) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.fileClient.WriteJsonFile(sm.filePath, summary); err != nil {
		sm.logger.Error().Err(err).Str("path", sm.filePath).Msg("Failed to write report file")
		return err
	}
	return nil
}
