package fsutil

import (
	"os"
)

// LocalFileStore implements FileStore using the local filesystem
type LocalFileStore struct {
}

// NewLocalFileStore creates a new LocalFileStore
func NewLocalFileStore() FileStore {
	return &LocalFileStore{}
}

func (fs *LocalFileStore) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
