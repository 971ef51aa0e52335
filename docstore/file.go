package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/warp/walletdesk/core"
)

// FileBackend keeps one <key>.json file per document in a directory.
//
// Save never modifies the destination in place: it writes a temp file in
// the same directory, fsyncs it and renames it over the destination, so a
// reader or a crash observes either the old or the new document.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create data dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the data directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, &core.StoreIOError{Op: "load", Key: key, Err: err}
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, key string, data []byte) (err error) {
	tmp, err := os.CreateTemp(b.dir, "."+key+".*.tmp")
	if err != nil {
		return &core.StoreIOError{Op: "create", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &core.StoreIOError{Op: "write", Key: key, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &core.StoreIOError{Op: "sync", Key: key, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &core.StoreIOError{Op: "close", Key: key, Err: err}
	}
	if err = os.Rename(tmpName, b.path(key)); err != nil {
		return &core.StoreIOError{Op: "rename", Key: key, Err: err}
	}

	// The rename is already visible; a failed directory fsync only weakens
	// durability of the rename itself and must not report the write as lost.
	_ = syncDir(b.dir)
	return nil
}

func (b *FileBackend) Quarantine(_ context.Context, key string) (string, error) {
	src := b.path(key)
	dst := fmt.Sprintf("%s.corrupt-%d", src, time.Now().UnixNano())
	if err := os.Rename(src, dst); err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	_ = syncDir(b.dir)
	return dst, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
