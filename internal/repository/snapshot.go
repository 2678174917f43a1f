package repository

import (
	"context"

	"github.com/yukihoshiii/zfh-project/internal/model"
)

// Snapshot is the complete persisted state. Drivers load and save it whole;
// there are no incremental writes.
type Snapshot struct {
	Users    map[string]model.User
	Channels []string
	Messages map[string][]model.Message
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users:    make(map[string]model.User),
		Messages: make(map[string][]model.Message),
	}
}

// Clone deep-copies the snapshot so a driver never aliases live state.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Users:    make(map[string]model.User, len(s.Users)),
		Channels: append([]string(nil), s.Channels...),
		Messages: make(map[string][]model.Message, len(s.Messages)),
	}
	for k, v := range s.Users {
		out.Users[k] = v
	}
	for k, v := range s.Messages {
		out.Messages[k] = append(make([]model.Message, 0, len(v)), v...)
	}
	return out
}

type SnapshotRepository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Ping(ctx context.Context) error
	Close() error
}
