package service

import (
	"context"

	"github.com/yukihoshiii/zfh-project/internal/model"
)

// ReconcileWindow is how many recent messages a polling client keeps in sync.
const ReconcileWindow = 5

type Reconciler struct {
	store    *Store
	channels *ChannelRegistry
}

func NewReconciler(store *Store, channels *ChannelRegistry) *Reconciler {
	return &Reconciler{store: store, channels: channels}
}

// LastN returns the reconcile window of a channel the caller may see.
func (r *Reconciler) LastN(identity model.Identity, channel string) ([]model.Message, error) {
	if err := r.channels.Visible(channel, identity.Username); err != nil {
		return nil, err
	}
	return r.store.ListLastN(channel, ReconcileWindow), nil
}

// Reconcile compares the ids a client holds against the last ReconcileWindow
// messages of the channel.
func (r *Reconciler) Reconcile(_ context.Context, identity model.Identity, channel string, known []int64) (model.Reconciliation, error) {
	window, err := r.LastN(identity, channel)
	if err != nil {
		return model.Reconciliation{}, err
	}
	return reconcileWindow(window, known, len(window) < ReconcileWindow), nil
}

// reconcileWindow is the pure delta. When complete is true the window holds
// the whole channel, so every known id outside it is stale. Otherwise only
// ids inside the window's span are judged; older ones are left alone.
func reconcileWindow(window []model.Message, known []int64, complete bool) model.Reconciliation {
	knownSet := make(map[int64]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}
	present := make(map[int64]struct{}, len(window))
	for _, m := range window {
		present[m.Timestamp] = struct{}{}
	}

	out := model.Reconciliation{ToAdd: []model.Message{}, ToRemove: []int64{}}
	for _, m := range window {
		if _, ok := knownSet[m.Timestamp]; !ok {
			out.ToAdd = append(out.ToAdd, m)
		}
	}

	var oldest int64
	if len(window) > 0 {
		oldest = window[0].Timestamp
	}
	seen := make(map[int64]struct{}, len(known))
	for _, id := range known {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := present[id]; ok {
			continue
		}
		if complete || id >= oldest {
			out.ToRemove = append(out.ToRemove, id)
		}
	}
	return out
}
