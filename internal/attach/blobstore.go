package attach

import (
	"os"
	"path/filepath"
)

// BlobStore persists decoded attachment bytes under a reference name.
type BlobStore interface {
	Write(name string, data []byte) error
}

// DirStore is a BlobStore writing each blob as a file in one directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the backing directory if needed and returns a store
// writing into it.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the backing directory, used to serve stored blobs over HTTP.
func (s *DirStore) Dir() string {
	return s.dir
}

// Write stores the blob under its reference name. The name is flattened to
// its base so a crafted reference cannot escape the directory.
func (s *DirStore) Write(name string, data []byte) error {
	return os.WriteFile(filepath.Join(s.dir, filepath.Base(name)), data, 0o644)
}
