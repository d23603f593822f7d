package submissions

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// FirestoreStore keeps records in a Firestore collection and subscribes to it
// natively, so changes from other processes arrive without polling.
//
// Listing by owner needs the composite index (ownerId ASC, submittedAt DESC, seq DESC).
type FirestoreStore struct {
	Client     *firestore.Client
	Collection string
}

// NewFirestoreStore connects to the project's default database.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}
	if collection == "" {
		collection = "applications"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{Client: client, Collection: collection}, nil
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.Client.Close()
}

func (s *FirestoreStore) coll() *firestore.CollectionRef {
	return s.Client.Collection(s.Collection)
}

// Create writes a new document keyed by the allocated id.
func (s *FirestoreStore) Create(ctx context.Context, stub Stub) (Record, error) {
	rec := stub.record(uuid.NewString(), nextSeq(), now())
	if _, err := s.coll().Doc(rec.ID).Create(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update applies the patch inside a transaction.
func (s *FirestoreStore) Update(ctx context.Context, id string, p Patch) (Record, error) {
	ref := s.coll().Doc(id)
	var out Record
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreErr(err)
		}
		var rec Record
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		if err := applyPatch(&rec, p, now()); err != nil {
			return err
		}
		out = rec
		return tx.Set(ref, rec)
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// Remove deletes the document; ErrNotFound if it does not exist.
func (s *FirestoreStore) Remove(ctx context.Context, id string) error {
	_, err := s.coll().Doc(id).Delete(ctx, firestore.Exists)
	return mapFirestoreErr(err)
}

// Get returns a record by id.
func (s *FirestoreStore) Get(ctx context.Context, id string) (Record, error) {
	snap, err := s.coll().Doc(id).Get(ctx)
	if err != nil {
		return Record{}, mapFirestoreErr(err)
	}
	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns an ordered snapshot.
func (s *FirestoreStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	iter := s.query(opts).Documents(ctx)
	defer iter.Stop()
	out := []Record{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := snap.DataTo(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscribe streams query snapshots until ctx ends.
func (s *FirestoreStore) Subscribe(ctx context.Context, opts ListOptions) (<-chan []Record, error) {
	it := s.query(opts).Snapshots(ctx)
	ch := make(chan []Record, 1)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					telemetry.Error("submission.subscribe.failed", map[string]any{"err": err, "owner_id": opts.OwnerID})
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				telemetry.Error("submission.subscribe.failed", map[string]any{"err": err, "owner_id": opts.OwnerID})
				return
			}
			snapshot := make([]Record, 0, len(docs))
			for _, d := range docs {
				var rec Record
				if err := d.DataTo(&rec); err != nil {
					continue
				}
				snapshot = append(snapshot, rec)
			}
			deliverLatest(ch, snapshot)
		}
	}()
	return ch, nil
}

func (s *FirestoreStore) query(opts ListOptions) firestore.Query {
	q := s.coll().Query
	if opts.OwnerID != "" {
		q = q.Where("ownerId", "==", opts.OwnerID)
	}
	q = q.OrderBy("submittedAt", firestore.Desc).OrderBy("seq", firestore.Desc)
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	return q
}

func mapFirestoreErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}
