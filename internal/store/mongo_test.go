package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/agenticai/healthguard/internal/workflow"
)

func TestMongoSaveUpdateLeavesOutcomesAlone(t *testing.T) {
	wf := seedWorkflow("wf-1", "p1", "imaging", "history")
	wf.Status = workflow.StatusRunning

	update := workflowSaveUpdate(wf)

	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	assert.NotContains(t, set, "step_outcomes", "outcomes are owned by PutStepOutcome")
	assert.Equal(t, workflow.StatusRunning, set["status"])
	assert.Equal(t, wf.RequestedSteps, set["requested_steps"])

	insert, ok := update["$setOnInsert"].(bson.M)
	require.True(t, ok)
	assert.Contains(t, insert, "step_outcomes")
}

func TestMongoSaveFilterKeepsCancelledRecords(t *testing.T) {
	wf := seedWorkflow("wf-1", "p1", "imaging")
	wf.Status = workflow.StatusCompleted

	// A non-cancelled save never matches a cancelled document
	filter := workflowSaveFilter(wf)
	assert.Equal(t, "wf-1", filter["_id"])
	assert.Equal(t, bson.M{"$ne": workflow.StatusCancelled}, filter["status"])

	// A cancelled save matches unconditionally
	wf.Status = workflow.StatusCancelled
	assert.Equal(t, bson.M{"_id": "wf-1"}, workflowSaveFilter(wf))
}
