package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

const opTimeout = 5 * time.Second

type MongoJournal struct {
	client   *mongo.Client
	attempts *mongo.Collection
}

func NewMongoJournal(client *mongo.Client, dbName, collection string) *MongoJournal {
	return &MongoJournal{client: client, attempts: client.Database(dbName).Collection(collection)}
}

// ConnectMongo dials uri, verifies the server and prepares the collection.
func ConnectMongo(ctx context.Context, uri, dbName, collection string) (*MongoJournal, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	j := NewMongoJournal(client, dbName, collection)
	if err := j.EnsureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return j, nil
}

func (j *MongoJournal) EnsureIndexes(ctx context.Context) error {
	_, err := j.attempts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "instance_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create attempts index: %w", err)
	}
	return nil
}

func (j *MongoJournal) Record(ctx context.Context, a model.Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := j.attempts.ReplaceOne(ctx,
		bson.M{"instance_id": a.InstanceID},
		a,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (j *MongoJournal) Get(ctx context.Context, instanceID string) (model.Attempt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var a model.Attempt
	err := j.attempts.FindOne(ctx, bson.M{"instance_id": instanceID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Attempt{}, false, nil
	}
	if err != nil {
		return model.Attempt{}, false, err
	}
	return a, true, nil
}

func (j *MongoJournal) Close(ctx context.Context) error {
	return j.client.Disconnect(ctx)
}
