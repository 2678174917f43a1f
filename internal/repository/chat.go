package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatRepository stores the snapshot in PostgreSQL. Save rewrites all three
// tables inside one transaction, so a failed save leaves the previous snapshot intact.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	users, err := r.pool.Query(ctx, `
		SELECT username, password_hash, role, registered_at, last_seen
		FROM chat_users
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	for users.Next() {
		var u model.User
		var role string
		if err := users.Scan(&u.Username, &u.PasswordHash, &role, &u.RegisteredAt, &u.LastSeen); err != nil {
			users.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = model.Role(role)
		snap.Users[u.Username] = u
	}
	users.Close()
	if err := users.Err(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	chans, err := r.pool.Query(ctx, `SELECT name FROM chat_channels ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	for chans.Next() {
		var name string
		if err := chans.Scan(&name); err != nil {
			chans.Close()
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		snap.Channels = append(snap.Channels, name)
	}
	chans.Close()
	if err := chans.Err(); err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}

	msgs, err := r.pool.Query(ctx, `
		SELECT channel, author, content, ts, kind
		FROM chat_messages
		ORDER BY channel, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer msgs.Close()
	for msgs.Next() {
		var channel string
		var m model.Message
		if err := msgs.Scan(&channel, &m.Author, &m.Content, &m.Timestamp, &m.Type); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		snap.Messages[channel] = append(snap.Messages[channel], m)
	}
	if err := msgs.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	return snap, nil
}

func (r *ChatRepository) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE chat_users, chat_channels, chat_messages`); err != nil {
		return fmt.Errorf("truncate snapshot tables: %w", err)
	}

	userRows := make([][]any, 0, len(snap.Users))
	for _, u := range snap.Users {
		userRows = append(userRows, []any{u.Username, u.PasswordHash, string(u.Role), u.RegisteredAt, u.LastSeen})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"chat_users"},
		[]string{"username", "password_hash", "role", "registered_at", "last_seen"},
		pgx.CopyFromRows(userRows)); err != nil {
		return fmt.Errorf("copy users: %w", err)
	}

	chanRows := make([][]any, 0, len(snap.Channels))
	for i, name := range snap.Channels {
		chanRows = append(chanRows, []any{name, i})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"chat_channels"},
		[]string{"name", "position"},
		pgx.CopyFromRows(chanRows)); err != nil {
		return fmt.Errorf("copy channels: %w", err)
	}

	var msgRows [][]any
	for channel, list := range snap.Messages {
		for seq, m := range list {
			msgRows = append(msgRows, []any{channel, seq, m.Author, m.Content, m.Timestamp, m.Type})
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"chat_messages"},
		[]string{"channel", "seq", "author", "content", "ts", "kind"},
		pgx.CopyFromRows(msgRows)); err != nil {
		return fmt.Errorf("copy messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (r *ChatRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *ChatRepository) Close() error {
	r.pool.Close()
	return nil
}
