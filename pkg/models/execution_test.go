package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/models"
)

func TestNewExecution(t *testing.T) {
	t.Parallel()

	triggeredBy := models.TriggeredBy{TriggerID: "trigger-1", TriggerKind: models.TriggerKindPriceThreshold}

	execution := models.NewExecution("exec-1", "workflow-1", triggeredBy)

	assert.Equal(t, "exec-1", execution.ID)
	assert.Equal(t, "workflow-1", execution.WorkflowID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 0, execution.ActionsExecuted)
	assert.Empty(t, execution.Error)
	assert.Nil(t, execution.FinishedAt)
	assert.False(t, execution.Terminal())
}

func TestExecution_Complete(t *testing.T) {
	t.Parallel()

	execution := models.NewExecution("exec-1", "workflow-1", models.TriggeredBy{Manual: true})

	require.NoError(t, execution.Complete())

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.True(t, execution.Terminal())
	require.NotNil(t, execution.FinishedAt)
}

func TestExecution_Fail(t *testing.T) {
	t.Parallel()

	execution := models.NewExecution("exec-1", "workflow-1", models.TriggeredBy{Manual: true})

	require.NoError(t, execution.Fail("swap provider rejected the order"))

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "swap provider rejected the order", execution.Error)
	assert.True(t, execution.Terminal())
	require.NotNil(t, execution.FinishedAt)
}

func TestExecution_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		finalize func(e *models.Execution) error
	}{
		{
			name:     "completed",
			finalize: func(e *models.Execution) error { return e.Complete() },
		},
		{
			name:     "failed",
			finalize: func(e *models.Execution) error { return e.Fail("boom") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			execution := models.NewExecution("exec-1", "workflow-1", models.TriggeredBy{Manual: true})
			require.NoError(t, tt.finalize(execution))

			err := execution.Complete()
			assert.ErrorIs(t, err, models.ErrExecutionTerminal)

			err = execution.Fail("again")
			assert.ErrorIs(t, err, models.ErrExecutionTerminal)

			err = execution.RecordAction("order-1")
			assert.ErrorIs(t, err, models.ErrExecutionNotPending)
		})
	}
}

func TestExecution_RecordAction(t *testing.T) {
	t.Parallel()

	execution := models.NewExecution("exec-1", "workflow-1", models.TriggeredBy{Manual: true})

	require.NoError(t, execution.RecordAction("order-1"))
	require.NoError(t, execution.RecordAction(""))
	require.NoError(t, execution.RecordAction("order-2"))

	assert.Equal(t, 3, execution.ActionsExecuted)
	assert.Equal(t, []string{"order-1", "order-2"}, execution.OrderIDs)
}

func TestTriggeredBy_String(t *testing.T) {
	t.Parallel()

	manual := models.TriggeredBy{Manual: true}
	assert.Equal(t, "manual", manual.String())

	automatic := models.TriggeredBy{TriggerID: "trigger-1", TriggerKind: models.TriggerKindTimeBased}
	assert.Equal(t, "TIME_BASED:trigger-1", automatic.String())
}
