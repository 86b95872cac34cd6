package patients

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agenticai/healthguard/internal/workflow"
)

const patientsCollection = "patients"

// MongoRepository is the document-store backed patient repository
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a repository on an existing database handle
func NewMongoRepository(database *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: database.Collection(patientsCollection)}
}

func (r *MongoRepository) Insert(ctx context.Context, p *Patient) error {
	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return workflow.Errorf(workflow.KindConflict, "patient %s already exists", p.ID)
		}
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, workflow.Errorf(workflow.KindNotFound, "patient %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return &p, nil
}

func (r *MongoRepository) Update(ctx context.Context, p *Patient) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return fmt.Errorf("failed to update patient %s: %w", p.ID, err)
	}
	if result.MatchedCount == 0 {
		return workflow.Errorf(workflow.KindNotFound, "patient %s not found", p.ID)
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context) ([]*Patient, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*Patient
	for cursor.Next(ctx) {
		var p Patient
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode patient: %w", err)
		}
		result = append(result, &p)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing patients: %w", err)
	}
	return result, nil
}
