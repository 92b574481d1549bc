// Package records persists document records in Firestore or SQLite.
package records

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// Firestore stores one document per record, keyed by document id.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore returns a record store on the named collection.
func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{client: client, collection: collection}
}

// Save writes the full record, replacing any previous version.
func (f *Firestore) Save(ctx context.Context, doc *models.DocumentRecord) error {
	if _, err := f.client.Collection(f.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// FindByID returns models.ErrNotFound for an unknown id.
func (f *Firestore) FindByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	snap, err := f.client.Collection(f.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	var doc models.DocumentRecord
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}

// FindAll returns every record, oldest upload first.
func (f *Firestore) FindAll(ctx context.Context) ([]models.DocumentRecord, error) {
	iter := f.client.Collection(f.collection).OrderBy("uploadDate", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	docs := []models.DocumentRecord{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		var doc models.DocumentRecord
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		doc.ID = snap.Ref.ID
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes the record. Firestore deletes of missing documents succeed.
func (f *Firestore) Delete(ctx context.Context, id string) error {
	if _, err := f.client.Collection(f.collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}
