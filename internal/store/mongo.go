package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/agenticai/healthguard/internal/workflow"
)

const (
	workflowsCollection = "workflows"
	reportsCollection   = "reports"

	mongoConnectTimeout = 10 * time.Second
)

// MongoResultStore is the durable document-store backend for workflows
// and reports. Step outcomes live inside the workflow document and are
// updated per-field, so sibling steps never touch each other's slot.
type MongoResultStore struct {
	database *mongo.Database
}

// DialMongo connects to MongoDB and pings it
func DialMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *MongoResultStore, error) {
	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, NewMongoResultStore(client.Database(dbName)), nil
}

// NewMongoResultStore creates a result store on an existing database handle
func NewMongoResultStore(database *mongo.Database) *MongoResultStore {
	return &MongoResultStore{database: database}
}

func (s *MongoResultStore) workflows() *mongo.Collection {
	return s.database.Collection(workflowsCollection)
}

func (s *MongoResultStore) reports() *mongo.Collection {
	return s.database.Collection(reportsCollection)
}

// workflowSaveFilter matches the workflow document eligible for this
// save. A non-cancelled save never matches a cancelled document, which
// keeps cancellation sticky: the upsert then collides on _id and
// surfaces as a duplicate-key error.
func workflowSaveFilter(wf *workflow.Workflow) bson.M {
	filter := bson.M{"_id": wf.ID}
	if wf.Status != workflow.StatusCancelled {
		filter["status"] = bson.M{"$ne": workflow.StatusCancelled}
	}
	return filter
}

// workflowSaveUpdate sets only workflow-level fields. Step outcomes are
// deliberately excluded: they are owned by PutStepOutcome, so a save
// carrying stale copies can never clobber a just-recorded outcome. The
// initial outcome map is written on insert only.
func workflowSaveUpdate(wf *workflow.Workflow) bson.M {
	return bson.M{
		"$set": bson.M{
			"subject_id":      wf.SubjectID,
			"requested_steps": wf.RequestedSteps,
			"priority":        wf.Priority,
			"status":          wf.Status,
			"context":         wf.Context,
			"error":           wf.Error,
			"cancelled_by":    wf.CancelledBy,
			"created_at":      wf.CreatedAt,
			"updated_at":      wf.UpdatedAt,
			"started_at":      wf.StartedAt,
			"completed_at":    wf.CompletedAt,
		},
		"$setOnInsert": bson.M{
			"step_outcomes": wf.StepOutcomes,
		},
	}
}

func (s *MongoResultStore) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	opts := options.Update().SetUpsert(true)
	_, err := s.workflows().UpdateOne(ctx, workflowSaveFilter(wf), workflowSaveUpdate(wf), opts)
	if mongo.IsDuplicateKeyError(err) {
		return workflow.Errorf(workflow.KindConflict, "workflow %s is cancelled", wf.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *MongoResultStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := s.workflows().FindOne(ctx, bson.M{"_id": workflowID}).Decode(&wf)
	if err == mongo.ErrNoDocuments {
		return nil, workflow.Errorf(workflow.KindNotFound, "workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}
	if wf.StepOutcomes == nil {
		wf.StepOutcomes = make(map[string]*workflow.StepOutcome)
	}
	return &wf, nil
}

func (s *MongoResultStore) PutStepOutcome(ctx context.Context, workflowID string, outcome *workflow.StepOutcome) error {
	update := bson.M{
		"$set": bson.M{
			"step_outcomes." + outcome.StepName: outcome,
			"updated_at":                        time.Now().UTC(),
		},
	}
	result, err := s.workflows().UpdateOne(ctx, bson.M{"_id": workflowID}, update)
	if err != nil {
		return fmt.Errorf("failed to store outcome %s/%s: %w", workflowID, outcome.StepName, err)
	}
	if result.MatchedCount == 0 {
		return workflow.Errorf(workflow.KindNotFound, "workflow %s not found", workflowID)
	}
	return nil
}

func (s *MongoResultStore) PutReport(ctx context.Context, report *workflow.AggregatedReport) error {
	if _, err := s.reports().InsertOne(ctx, report); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return workflow.Errorf(workflow.KindConflict, "report already exists for workflow %s", report.WorkflowID)
		}
		return fmt.Errorf("failed to store report for %s: %w", report.WorkflowID, err)
	}
	return nil
}

func (s *MongoResultStore) GetReport(ctx context.Context, workflowID string) (*workflow.AggregatedReport, error) {
	var report workflow.AggregatedReport
	err := s.reports().FindOne(ctx, bson.M{"_id": workflowID}).Decode(&report)
	if err == mongo.ErrNoDocuments {
		return nil, workflow.Errorf(workflow.KindNotFound, "no report for workflow %s", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report for %s: %w", workflowID, err)
	}
	return &report, nil
}

func (s *MongoResultStore) ListWorkflows(ctx context.Context, subjectID string) ([]*workflow.Workflow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.workflows().Find(ctx, bson.M{"subject_id": subjectID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows for subject %s: %w", subjectID, err)
	}
	defer cursor.Close(ctx)

	var result []*workflow.Workflow
	for cursor.Next(ctx) {
		var wf workflow.Workflow
		if err := cursor.Decode(&wf); err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}
		result = append(result, &wf)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing workflows: %w", err)
	}
	return result, nil
}

// PurgeOlderThan removes terminal workflows and their reports completed
// before the cutoff.
func (s *MongoResultStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{"completed_at": bson.M{"$lt": cutoff}}
	cursor, err := s.workflows().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("failed to find expired workflows: %w", err)
	}
	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err == nil {
			ids = append(ids, doc.ID)
		}
	}
	cursor.Close(ctx)
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := s.reports().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return 0, fmt.Errorf("failed to purge reports: %w", err)
	}
	result, err := s.workflows().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge workflows: %w", err)
	}
	return int(result.DeletedCount), nil
}
