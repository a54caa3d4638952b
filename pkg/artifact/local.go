package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// LocalStore serves firmware images from a directory on disk.
type LocalStore struct {
	dir        string
	fileClient file.FileOperations
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string, fileClient file.FileOperations) *LocalStore {
	return &LocalStore{dir: dir, fileClient: fileClient}
}

// Open reads the named image. Names are confined to the store directory.
func (s *LocalStore) Open(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, filepath.Base(name))

	exists, err := s.fileClient.IsFileExists(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}

	data, err := s.fileClient.ReadFileRaw(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
