package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/benmeehan/iot-provisioner/internal/models"
)

var (
	// ErrArtifactMissing is returned when a firmware image is not present in the store.
	ErrArtifactMissing = errors.New("firmware artifact missing")
	// ErrChecksumMismatch is returned when a firmware image does not match its catalog digest.
	ErrChecksumMismatch = errors.New("firmware artifact checksum mismatch")
)

// Store resolves firmware image names to their contents.
type Store interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

// Fetch reads the image named by entry and verifies its digest when one is set.
func Fetch(ctx context.Context, store Store, entry models.FirmwareEntry) ([]byte, error) {
	data, err := store.Open(ctx, entry.Artifact)
	if err != nil {
		return nil, err
	}
	if err := Verify(data, entry.SHA256); err != nil {
		return nil, fmt.Errorf("%s: %w", entry.Artifact, err)
	}
	return data, nil
}

// Verify compares data against a hex SHA-256 digest. An empty digest always passes.
func Verify(data []byte, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, actual, expected)
	}
	return nil
}
