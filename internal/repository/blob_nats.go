package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBlobRepository keeps attachments in a JetStream object store bucket.
type NATSBlobRepository struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

func NewNATSBlobRepository(ctx context.Context, natsURL, bucket string) (*NATSBlobRepository, error) {
	conn, err := nats.Connect(natsURL, nats.Name("chat-uploads"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Chat attachments",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create object store %s: %w", bucket, err)
		}
	}

	return &NATSBlobRepository{conn: conn, store: store}, nil
}

func (r *NATSBlobRepository) Put(ctx context.Context, id string, data []byte) error {
	meta := jetstream.ObjectMeta{
		Name: id,
		Headers: nats.Header{
			"Content-Type": []string{"application/octet-stream"},
		},
	}
	if _, err := r.store.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put blob %s: %w", id, err)
	}
	return nil
}

func (r *NATSBlobRepository) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := r.store.GetBytes(ctx, id)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return data, nil
}

func (r *NATSBlobRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

func (r *NATSBlobRepository) Close() {
	r.conn.Close()
}
