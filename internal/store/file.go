package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

// fileDocument is the on-disk layout.
type fileDocument struct {
	Version  int             `json:"version"`
	Captures []model.Capture `json:"captures"`
}

// File is a Store persisted as a single JSON document. Every Append rewrites
// the document atomically (temp file + rename, 0600).
type File struct {
	mu        sync.Mutex
	path      string
	retention int
}

// NewFile returns a File store at path. The file is created on first Append.
func NewFile(path string, retention int) (*File, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &File{path: path, retention: retention}, nil
}

// Path returns the backing file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Append(ctx context.Context, c model.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	before := len(doc.Captures) + 1
	doc.Captures = rotate(append(doc.Captures, c), f.retention)
	if dropped := before - len(doc.Captures); dropped > 0 {
		appLog.Debug("store: rotated old captures", "dropped", dropped, "path", f.path)
	}
	return f.save(doc)
}

func (f *File) Latest(ctx context.Context, n int) ([]model.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	return tail(doc.Captures, n), nil
}

func (f *File) load() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileDocument{Version: 1}, nil
		}
		return doc, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("store: decode %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) save(doc fileDocument) error {
	doc.Version = 1
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".gridcal-captures-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
