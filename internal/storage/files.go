package storage

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStorage places uploaded bytes and hands them back for download. The
// chat core treats placement as an external concern behind this interface.
type FileStorage interface {
	Save(fileName string, r io.Reader) (storagePath string, size int64, err error)
	Open(storagePath string) (io.ReadCloser, error)
}

type diskStorage struct {
	root string
}

func NewDiskStorage(root string) (*diskStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &diskStorage{root: root}, nil
}

// Save writes the file under a fresh uuid name, keeping the original
// extension so downloads keep a sensible type.
func (ds *diskStorage) Save(fileName string, r io.Reader) (string, int64, error) {
	name := uuid.NewString() + filepath.Ext(fileName)
	path := filepath.Join(ds.root, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}

	log.Printf("Stored file %s as %s (%d bytes)", fileName, name, size)
	return name, size, nil
}

func (ds *diskStorage) Open(storagePath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(ds.root, filepath.Base(storagePath)))
}
