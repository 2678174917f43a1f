package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/repository"
)

// DeleteTolerance is the window, in milliseconds, inside which a delete
// request id still refers to a stored message. It only applies when ids come
// from clients; server ids within one second of each other are distinct messages.
const DeleteTolerance int64 = 1000

// Store is the authoritative in-memory chat state with write-through snapshots.
//
// Every mutation saves the full snapshot before returning. A failed save does
// not roll the mutation back: it is logged, the store is marked dirty and Run
// keeps retrying the whole write. All snapshot I/O happens under one mutex,
// which is the throughput ceiling of a single process.
type Store struct {
	repo repository.SnapshotRepository
	now  func() time.Time

	mu           sync.Mutex
	users        map[string]model.User
	channels     []string
	channelSet   map[string]struct{}
	messages     map[string][]model.Message
	lastID       map[string]int64
	tolerance    int64
	deleted      map[string]map[int64]struct{}
	dirty        bool
	saveFailures int
}

type StoreStats struct {
	Users        int  `json:"users"`
	Channels     int  `json:"channels"`
	Messages     int  `json:"messages"`
	SaveFailures int  `json:"save_failures"`
	Dirty        bool `json:"dirty"`
}

func NewStore(repo repository.SnapshotRepository) *Store {
	return &Store{
		repo:       repo,
		now:        time.Now,
		users:      make(map[string]model.User),
		channelSet: make(map[string]struct{}),
		messages:   make(map[string][]model.Message),
		lastID:     make(map[string]int64),
		deleted:    make(map[string]map[int64]struct{}),
	}
}

// SetDeleteTolerance enables fuzzy delete matching for client-supplied ids.
// Zero, the default, matches ids exactly.
func (s *Store) SetDeleteTolerance(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tolerance = ms
}

// Open loads the snapshot and makes sure the default channels exist.
func (s *Store) Open(ctx context.Context, defaultChannels []string) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = snap.Users
	s.channels = nil
	s.channelSet = make(map[string]struct{})
	s.messages = make(map[string][]model.Message)
	s.lastID = make(map[string]int64)

	for _, name := range snap.Channels {
		s.addChannelLocked(name)
	}
	for name, list := range snap.Messages {
		// Messages for a channel missing from the registry still belong somewhere.
		s.addChannelLocked(name)
		s.messages[name] = list
		for i, m := range list {
			if m.Type == "" {
				list[i].Type = kindOf(m)
			}
			if m.Timestamp > s.lastID[name] {
				s.lastID[name] = m.Timestamp
			}
		}
	}

	added := false
	for _, name := range defaultChannels {
		if s.addChannelLocked(name) {
			added = true
		}
	}
	if added {
		s.persistLocked(ctx)
	}

	log.Printf("[Store] loaded %d users, %d channels", len(s.users), len(s.channels))
	return nil
}

// Run retries failed snapshot writes until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty {
				s.persistLocked(ctx)
			}
			s.mu.Unlock()
		}
	}
}

// Close flushes pending state and releases the repository.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		if err := s.repo.Save(ctx, s.snapshotLocked()); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
		s.dirty = false
	}
	return s.repo.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, list := range s.messages {
		total += len(list)
	}
	return StoreStats{
		Users:        len(s.users),
		Channels:     len(s.channels),
		Messages:     total,
		SaveFailures: s.saveFailures,
		Dirty:        s.dirty,
	}
}

// ---- channels ----

func (s *Store) HasChannel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channelSet[name]
	return ok
}

// Channels returns channel names in creation order.
func (s *Store) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

// AddChannel registers name and persists. created is false when it already existed.
func (s *Store) AddChannel(ctx context.Context, name string) (created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.addChannelLocked(name) {
		return false
	}
	s.persistLocked(ctx)
	return true
}

func (s *Store) addChannelLocked(name string) bool {
	if _, ok := s.channelSet[name]; ok {
		return false
	}
	s.channelSet[name] = struct{}{}
	s.channels = append(s.channels, name)
	if s.messages[name] == nil {
		s.messages[name] = []model.Message{}
	}
	return true
}

// ---- messages ----

// AppendMessage stores msg at the end of the channel log. A zero Timestamp is
// replaced by a server id that is strictly greater than every id in the channel.
// A caller-supplied Timestamp that already exists in the channel is a conflict.
func (s *Store) AppendMessage(ctx context.Context, channel string, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channelSet[channel]; !ok {
		return model.Message{}, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
	}

	list := s.messages[channel]
	if msg.Timestamp == 0 {
		msg.Timestamp = s.nextIDLocked(channel)
	} else {
		for _, m := range list {
			if m.Timestamp == msg.Timestamp {
				return model.Message{}, fmt.Errorf("message id %d: %w", msg.Timestamp, ErrConflict)
			}
		}
	}
	if msg.Type == "" {
		msg.Type = kindOf(msg)
	}

	s.messages[channel] = append(list, msg)
	delete(s.deleted[channel], msg.Timestamp)
	if msg.Timestamp > s.lastID[channel] {
		s.lastID[channel] = msg.Timestamp
	}
	s.persistLocked(ctx)
	return msg, nil
}

// kindOf infers the type of a message stored before types were recorded.
func kindOf(m model.Message) string {
	if m.IsFile() {
		return model.MessageTypeFile
	}
	return model.MessageTypeText
}

func (s *Store) nextIDLocked(channel string) int64 {
	id := s.now().UnixMilli()
	if last := s.lastID[channel]; id <= last {
		id = last + 1
	}
	return id
}

// DeleteMessage removes the message matching id. found is false when nothing matched.
func (s *Store) DeleteMessage(ctx context.Context, channel string, id int64) (model.Message, bool) {
	msg, err := s.DeleteMessageIf(ctx, channel, id, nil)
	return msg, err == nil
}

// DeleteMessageIf locates the message matching id, asks allow whether it may
// be removed and removes it, all under the store lock.
func (s *Store) DeleteMessageIf(ctx context.Context, channel string, id int64, allow func(model.Message) error) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.messages[channel]
	if !ok {
		return model.Message{}, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
	}
	idx := matchMessage(list, id, 0)
	if idx < 0 {
		// A deleted id never falls through to a neighbour inside the window.
		if _, gone := s.deleted[channel][id]; gone {
			return model.Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		idx = matchMessage(list, id, s.tolerance)
	}
	if idx < 0 {
		return model.Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	msg := list[idx]
	if allow != nil {
		if err := allow(msg); err != nil {
			return model.Message{}, err
		}
	}

	next := make([]model.Message, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	s.messages[channel] = next
	if s.tolerance > 0 {
		s.tombstoneLocked(channel, id, msg.Timestamp)
	}
	s.persistLocked(ctx)
	return msg, nil
}

func (s *Store) tombstoneLocked(channel string, ids ...int64) {
	set, ok := s.deleted[channel]
	if !ok {
		set = make(map[int64]struct{})
		s.deleted[channel] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// matchMessage prefers an exact id and otherwise picks the closest message
// strictly inside tolerance. Returns -1 when none qualifies.
func matchMessage(list []model.Message, id, tolerance int64) int {
	best, bestDiff := -1, tolerance
	for i, m := range list {
		diff := m.Timestamp - id
		if diff < 0 {
			diff = -diff
		}
		if diff == 0 {
			return i
		}
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// ListMessages returns a copy of the channel log in append order.
func (s *Store) ListMessages(channel string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message{}, s.messages[channel]...)
}

// ListLastN returns up to n most recent messages, oldest first.
func (s *Store) ListLastN(channel string, n int) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[channel]
	if n < 0 {
		n = 0
	}
	if n > len(list) {
		n = len(list)
	}
	return append([]model.Message{}, list[len(list)-n:]...)
}

// ---- users ----

func (s *Store) User(username string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return u, ok
}

// AddUser inserts a new user; ErrConflict when the name is taken.
func (s *Store) AddUser(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("user %q: %w", u.Username, ErrConflict)
	}
	s.users[u.Username] = u
	s.persistLocked(ctx)
	return nil
}

// TouchUser records the last time the user authenticated.
func (s *Store) TouchUser(ctx context.Context, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return
	}
	now := s.now().UTC()
	u.LastSeen = &now
	s.users[username] = u
	s.persistLocked(ctx)
}

// ---- persistence ----

func (s *Store) snapshotLocked() *repository.Snapshot {
	snap := &repository.Snapshot{
		Users:    s.users,
		Channels: s.channels,
		Messages: s.messages,
	}
	return snap.Clone()
}

func (s *Store) persistLocked(ctx context.Context) {
	if err := s.repo.Save(ctx, s.snapshotLocked()); err != nil {
		s.dirty = true
		s.saveFailures++
		log.Printf("[Store] snapshot write failed (will retry): %v", err)
		return
	}
	s.dirty = false
}
