package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/yukihoshiii/zfh-project/internal/model"
)

const (
	usersFile    = "users.json"
	channelsFile = "channels.json"
	messagesFile = "messages.json"
)

type channelsDocument struct {
	Channels []string `json:"channels"`
}

// FileSnapshotRepository keeps the snapshot as three JSON documents in one directory.
type FileSnapshotRepository struct {
	dir string
	mu  sync.Mutex
}

func NewFileSnapshotRepository(dir string) (*FileSnapshotRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileSnapshotRepository{dir: dir}, nil
}

func (r *FileSnapshotRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := NewSnapshot()
	if err := r.read(usersFile, &snap.Users); err != nil {
		return nil, err
	}
	var chans channelsDocument
	if err := r.read(channelsFile, &chans); err != nil {
		return nil, err
	}
	snap.Channels = chans.Channels
	if err := r.read(messagesFile, &snap.Messages); err != nil {
		return nil, err
	}
	if snap.Users == nil {
		snap.Users = make(map[string]model.User)
	}
	if snap.Messages == nil {
		snap.Messages = make(map[string][]model.Message)
	}
	return snap, nil
}

func (r *FileSnapshotRepository) Save(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.write(usersFile, snap.Users); err != nil {
		return err
	}
	if err := r.write(channelsFile, channelsDocument{Channels: snap.Channels}); err != nil {
		return err
	}
	return r.write(messagesFile, snap.Messages)
}

func (r *FileSnapshotRepository) Ping(_ context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", r.dir)
	}
	return nil
}

func (r *FileSnapshotRepository) Close() error { return nil }

// read leaves v untouched when the file does not exist yet.
func (r *FileSnapshotRepository) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write replaces the file through a rename so readers never see half a document.
func (r *FileSnapshotRepository) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
