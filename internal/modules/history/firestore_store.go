// README: Ride history on Cloud Firestore, one document per ride attempt.
package history

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// Store is the durable history collaborator: append, query by one field and
// merge-patch by document id.
type Store interface {
	Append(ctx context.Context, rec Record) (string, error)
	QueryByField(ctx context.Context, field string, value interface{}) ([]Entry, error)
	Patch(ctx context.Context, docID string, fields map[string]interface{}) error
}

type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "ride_history"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) Append(ctx context.Context, rec Record) (string, error) {
	ref := s.client.Collection(s.collection).NewDoc()
	if _, err := ref.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("append history %s: %w", rec.RideID, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) QueryByField(ctx context.Context, field string, value interface{}) ([]Entry, error) {
	docs, err := s.client.Collection(s.collection).Where(field, "==", value).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query history by %s: %w", field, err)
	}
	out := make([]Entry, 0, len(docs))
	for _, d := range docs {
		var rec Record
		if err := d.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", d.Ref.ID, err)
		}
		out = append(out, Entry{DocID: d.Ref.ID, Record: rec})
	}
	return out, nil
}

// Patch merges fields into the document; absent fields are kept.
func (s *FirestoreStore) Patch(ctx context.Context, docID string, fields map[string]interface{}) error {
	_, err := s.client.Collection(s.collection).Doc(docID).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("patch history %s: %w", docID, err)
	}
	return nil
}
