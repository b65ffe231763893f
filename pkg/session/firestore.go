package session

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is a Store backed by a Firestore collection with one document
// per child device.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a FirestoreStore. The client's lifecycle is managed by the caller.
func NewFirestoreStore(client *firestore.Client, collectionName string) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	return &FirestoreStore{client: client, collection: collectionName}, nil
}

// Set creates or overwrites the session document.
func (s *FirestoreStore) Set(ctx context.Context, sess Session) error {
	if sess.ChildDeviceID == "" {
		return fmt.Errorf("session has no child device id")
	}
	_, err := s.client.Collection(s.collection).Doc(sess.ChildDeviceID).Set(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to set session in firestore for %s: %w", sess.ChildDeviceID, err)
	}
	return nil
}

// Fetch retrieves a session document.
func (s *FirestoreStore) Fetch(ctx context.Context, childDeviceID string) (Session, error) {
	docSnap, err := s.client.Collection(s.collection).Doc(childDeviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Session{}, fmt.Errorf("device %q: %w", childDeviceID, ErrNotFound)
		}
		return Session{}, fmt.Errorf("firestore get failed for %s: %w", childDeviceID, err)
	}
	var sess Session
	if err := docSnap.DataTo(&sess); err != nil {
		return Session{}, fmt.Errorf("failed to read session document for %s: %w", childDeviceID, err)
	}
	return sess, nil
}

// Delete removes the session document.
func (s *FirestoreStore) Delete(ctx context.Context, childDeviceID string) error {
	_, err := s.client.Collection(s.collection).Doc(childDeviceID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore delete failed for %s: %w", childDeviceID, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	return nil
}
