package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/yukihoshiii/zfh-project/internal/model"
)

const maxChannelNameLen = 64

// ChannelRegistry owns channel creation and visibility rules on top of the Store.
type ChannelRegistry struct {
	store *Store
}

func NewChannelRegistry(store *Store) *ChannelRegistry {
	return &ChannelRegistry{store: store}
}

// Create adds a public channel. Only admins may do this.
func (r *ChannelRegistry) Create(ctx context.Context, name string, requester model.Identity) (model.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxChannelNameLen {
		return model.Channel{}, fmt.Errorf("channel name must be 1-%d characters: %w", maxChannelNameLen, ErrMalformedInput)
	}
	if strings.Contains(name, model.PrivateSeparator) {
		return model.Channel{}, fmt.Errorf("channel name may not contain %q: %w", model.PrivateSeparator, ErrMalformedInput)
	}
	if !requester.IsAdmin() {
		return model.Channel{}, fmt.Errorf("only admins can create channels: %w", ErrForbidden)
	}
	if !r.store.AddChannel(ctx, name) {
		return model.Channel{}, fmt.Errorf("channel %q: %w", name, ErrConflict)
	}
	return model.NewChannel(name), nil
}

// CreatePrivate opens the pairwise channel between requester and target.
// Existing channels are returned as-is with created=false.
func (r *ChannelRegistry) CreatePrivate(ctx context.Context, requester model.Identity, target string) (ch model.Channel, created bool, err error) {
	target = strings.TrimSpace(target)
	if target == "" || target == requester.Username || strings.Contains(target, model.PrivateSeparator) {
		return model.Channel{}, false, fmt.Errorf("invalid target user: %w", ErrMalformedInput)
	}
	if _, ok := r.store.User(target); !ok {
		return model.Channel{}, false, fmt.Errorf("user %q: %w", target, ErrNotFound)
	}

	name := model.PrivateChannelName(requester.Username, target)
	created = r.store.AddChannel(ctx, name)
	return model.NewChannel(name), created, nil
}

// ListVisible returns every public channel plus the private ones username takes part in.
func (r *ChannelRegistry) ListVisible(username string) []model.Channel {
	var out []model.Channel
	for _, name := range r.store.Channels() {
		if model.VisibleTo(name, username) {
			out = append(out, model.NewChannel(name))
		}
	}
	return out
}

func (r *ChannelRegistry) Exists(name string) bool {
	return r.store.HasChannel(name)
}

// Visible checks that the channel exists and that username may see it.
func (r *ChannelRegistry) Visible(name, username string) error {
	if !r.store.HasChannel(name) {
		return fmt.Errorf("channel %q: %w", name, ErrNotFound)
	}
	if !model.VisibleTo(name, username) {
		return fmt.Errorf("channel %q: %w", name, ErrForbidden)
	}
	return nil
}
