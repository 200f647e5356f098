package pubsched

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileBackend stores the queue as one indented JSON array document.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the document at path. The file is
// created on the first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the document location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) ([]ScheduledPost, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, true, nil
	}
	var posts []ScheduledPost
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return posts, true, nil
}

func (b *FileBackend) Save(ctx context.Context, posts []ScheduledPost) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if posts == nil {
		posts = []ScheduledPost{}
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, append(data, '\n'), 0o644)
}
