package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection documents are stored in.
const DefaultCollection = "notepads"

// FirestoreBackend is a Firestore-backed implementation of Backend. Each
// key is one Firestore document holding the content and update time.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend creates a FirestoreBackend using the given client. An
// empty collection selects DefaultCollection.
func NewFirestoreBackend(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreBackend{client: client, collection: collection}
}

func (b *FirestoreBackend) docRef(key string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(key)
}

// ValidateKey rejects keys Firestore cannot use as document IDs.
func (b *FirestoreBackend) ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.Contains(key, "/"):
		return fmt.Errorf("%w: %q contains a slash", ErrInvalidKey, key)
	case strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__"):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return nil
}

func (b *FirestoreBackend) Location(key string) string {
	return fmt.Sprintf("firestore://%s/%s", b.collection, key)
}

func (b *FirestoreBackend) Load(ctx context.Context, key string) (string, time.Time, error) {
	snap, err := b.docRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	data := snap.Data()
	content, _ := data["content"].(string)
	updatedAt, _ := data["updatedAt"].(time.Time)
	return content, updatedAt, nil
}

// Save overwrites the whole Firestore document in a single Set, which
// Firestore applies atomically.
func (b *FirestoreBackend) Save(ctx context.Context, key, content string) (time.Time, error) {
	now := time.Now()
	_, err := b.docRef(key).Set(ctx, map[string]interface{}{
		"content":   content,
		"updatedAt": now,
	})
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}
