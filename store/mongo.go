package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"accord"
	"accord/configs"
)

// mongoDoc mirrors the teacher's YCSBDataMongo in storage/mongo.go, trimmed
// to the fields Accord's single-writer-per-key Apply actually needs — no
// latch-owner bookkeeping, since conflicting keys are already ordered by
// the dependency graph before Apply ever runs.
type mongoDoc struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// MongoStore is the mongo-driver-backed Executor (configs.Mongo).
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("accord/store: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("accord/store: ping mongo: %w", err)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection("accord_kv"),
	}, nil
}

func (s *MongoStore) Read(ctx context.Context, id accord.TxId, keys accord.KeySet[string]) (any, error) {
	out := make([]ReadPayload, 0, keys.Len())
	for _, k := range keys.Slice() {
		var doc mongoDoc
		err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: k}}).Decode(&doc)
		switch err {
		case nil:
			out = append(out, ReadPayload{Key: k, Value: doc.Value, Found: true})
		case mongo.ErrNoDocuments:
			out = append(out, ReadPayload{Key: k, Found: false})
		default:
			return nil, fmt.Errorf("accord/store: read %s for %s: %w", k, id, err)
		}
	}
	return out, nil
}

func (s *MongoStore) Apply(ctx context.Context, id accord.TxId, writes any) (any, error) {
	ws, ok := writes.(WriteSet)
	if !ok {
		return nil, nil
	}
	upsert := true
	_, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: ws.Key}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "value", Value: ws.Value}}}},
		&options.UpdateOptions{Upsert: &upsert})
	if err != nil {
		return nil, fmt.Errorf("accord/store: apply %s for %s: %w", ws.Key, id, err)
	}
	configs.Debugf("store/mongo: applied %s for %s", ws.Key, id)
	return nil, nil
}

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
