package services

import (
	"errors"
	"fmt"

	"github.com/benmeehan/iot-provisioner/internal/constants"
)

var (
	// ErrIdentifyFailed means the device could not be identified at its current address.
	ErrIdentifyFailed = errors.New("identify failed")
	// ErrOnlineWaitTimeout means a device did not answer within the online-wait budget.
	ErrOnlineWaitTimeout = errors.New("device did not come online")
	// ErrInvalidTransition means the pipeline attempted a phase out of order.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrCancelled marks devices that were never started because the run was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// PhaseError reports the phase at which a device pipeline failed.
type PhaseError struct {
	Phase   constants.Phase
	Address string
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Address, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
