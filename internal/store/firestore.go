package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend stores one document per field key in a single collection.
// The serialized value lives under the "value" field so the entries stay
// inspectable in the console alongside their update timestamps.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend wraps an existing Firestore client. The caller owns the
// client's lifetime; Close here is a no-op so one client can back several
// stores.
func NewFirestoreBackend(client *firestore.Client, collection string) *FirestoreBackend {
	return &FirestoreBackend{client: client, collection: collection}
}

func (f *FirestoreBackend) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("firestore get %q: %w", key, err)
	}
	raw, ok := snap.Data()["value"].(string)
	if !ok {
		return "", false, nil
	}
	return raw, true, nil
}

func (f *FirestoreBackend) Set(ctx context.Context, key, value string) error {
	_, err := f.client.Collection(f.collection).Doc(key).Set(ctx, map[string]interface{}{
		"value":     value,
		"updatedAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("firestore set %q: %w", key, err)
	}
	return nil
}

func (f *FirestoreBackend) Delete(ctx context.Context, key string) error {
	if _, err := f.client.Collection(f.collection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %q: %w", key, err)
	}
	return nil
}

func (f *FirestoreBackend) Close() error { return nil }
