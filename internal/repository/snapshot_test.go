package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	snap := NewSnapshot()
	snap.Users["alice"] = model.User{
		Username:     "alice",
		PasswordHash: "hash",
		Role:         model.RoleUser,
		RegisteredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	snap.Channels = []string{"Home", "general", "alice-bob"}
	snap.Messages["general"] = []model.Message{
		{Author: "alice", Content: "hi", Timestamp: 1, Type: model.MessageTypeText},
		{Author: "alice", Content: "FILE:abc:a.txt", Timestamp: 2, Type: model.MessageTypeFile},
	}
	snap.Messages["Home"] = []model.Message{}
	return snap
}

func TestFileSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileSnapshotRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Users)
	assert.Empty(t, empty.Channels)

	want := sampleSnapshot()
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Channels, got.Channels)
	assert.Equal(t, want.Messages["general"], got.Messages["general"])
	assert.True(t, want.Users["alice"].RegisteredAt.Equal(got.Users["alice"].RegisteredAt))

	for _, name := range []string{usersFile, channelsFile, messagesFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
		_, err = os.Stat(filepath.Join(dir, name+".tmp"))
		assert.True(t, os.IsNotExist(err), "temp file for %s left behind", name)
	}
	assert.NoError(t, repo.Ping(ctx))
}

func TestFileSnapshotReadsLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, channelsFile), []byte(`{"channels":["Home","general"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, messagesFile),
		[]byte(`{"general":[{"author":"bob","content":"yo","timestamp":1700000000000}]}`), 0o644))

	repo, err := NewFileSnapshotRepository(dir)
	require.NoError(t, err)
	snap, err := repo.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Home", "general"}, snap.Channels)
	require.Len(t, snap.Messages["general"], 1)
	assert.Equal(t, int64(1700000000000), snap.Messages["general"][0].Timestamp)
	assert.NotNil(t, snap.Users)
}

func TestFileSnapshotCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, usersFile), []byte(`{broken`), 0o644))

	repo, err := NewFileSnapshotRepository(dir)
	require.NoError(t, err)
	_, err = repo.Load(context.Background())
	assert.Error(t, err)
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	orig := sampleSnapshot()
	clone := orig.Clone()

	clone.Messages["general"][0].Content = "changed"
	clone.Channels[0] = "changed"
	delete(clone.Users, "alice")

	assert.Equal(t, "hi", orig.Messages["general"][0].Content)
	assert.Equal(t, "Home", orig.Channels[0])
	assert.Contains(t, orig.Users, "alice")
	assert.NotNil(t, clone.Messages["Home"])
}

func TestMemorySnapshotRepository(t *testing.T) {
	repo := NewMemorySnapshotRepository(sampleSnapshot())
	ctx := context.Background()

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	snap.Channels = append(snap.Channels, "extra")

	again, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Channels, 3, "loaded copies do not alias stored state")

	require.NoError(t, repo.Save(ctx, snap))
	assert.Equal(t, 1, repo.Saves())
}
