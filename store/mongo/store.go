// Package mongo implements store.DocStore on top of MongoDB.
// Documents are stored with the caller's id as _id so Put is a
// natural idempotent upsert.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/rbaliyan/mailsync/store"
)

// Connection states.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

// Store is a MongoDB-backed store.DocStore.
type Store struct {
	uri      string
	database string
	client   *mongo.Client
	db       *mongo.Database
	state    atomic.Int32
}

// New returns a store for the given MongoDB URI.
func New(opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		uri:      o.uri,
		database: o.database,
	}
}

// Connect establishes the client connection and verifies it with a
// ping. Safe to call from one goroutine; concurrent Connect calls
// return ErrAlreadyConnected.
func (s *Store) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateDisconnected, stateConnecting) {
		return store.ErrAlreadyConnected
	}

	client, err := mongo.Connect(mongoopts.Client().ApplyURI(s.uri))
	if err != nil {
		s.state.Store(stateDisconnected)
		return fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		s.state.Store(stateDisconnected)
		return fmt.Errorf("mongo: ping: %w", err)
	}

	s.client = client
	s.db = client.Database(s.database)
	s.state.Store(stateConnected)
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateConnected, stateDisconnected) {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo: disconnect: %w", err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.state.Load() != stateConnected {
		return store.ErrNotConnected
	}
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	if s.state.Load() != stateConnected {
		return nil, store.ErrNotConnected
	}
	return s.db.Collection(name), nil
}

func (s *Store) Put(ctx context.Context, collection, id string, doc []byte) error {
	if id == "" {
		return store.ErrInvalidID
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	var body bson.M
	if err := bson.UnmarshalExtJSON(doc, false, &body); err != nil {
		return fmt.Errorf("mongo: decode document %s/%s: %w", collection, id, err)
	}
	body["_id"] = id

	_, err = col.ReplaceOne(ctx, bson.M{"_id": id}, body, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	var body bson.M
	err = col.FindOne(ctx, bson.M{"_id": id}).Decode(&body)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongo: get %s/%s: %w", collection, id, err)
	}
	delete(body, "_id")

	raw, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return nil, fmt.Errorf("mongo: encode %s/%s: %w", collection, id, err)
	}
	return raw, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongo: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, q store.Query) ([][]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	for k, v := range q.Terms {
		filter[k] = v
	}
	if q.Text != "" {
		or := make(bson.A, 0, len(q.TextFields))
		for _, f := range q.TextFields {
			or = append(or, bson.M{f: bson.M{
				"$regex":   regexp.QuoteMeta(q.Text),
				"$options": "i",
			}})
		}
		filter["$or"] = or
	}

	findOpts := mongoopts.Find()
	if q.SortBy != "" {
		dir := 1
		if q.Descending() {
			dir = -1
		}
		findOpts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	}
	if q.Offset > 0 {
		findOpts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cur, err := col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: search %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var out [][]byte
	for cur.Next(ctx) {
		var body bson.M
		if err := cur.Decode(&body); err != nil {
			return nil, fmt.Errorf("mongo: decode %s result: %w", collection, err)
		}
		delete(body, "_id")
		raw, err := bson.MarshalExtJSON(body, false, false)
		if err != nil {
			return nil, fmt.Errorf("mongo: encode %s result: %w", collection, err)
		}
		out = append(out, raw)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: search %s: %w", collection, err)
	}
	return out, nil
}
