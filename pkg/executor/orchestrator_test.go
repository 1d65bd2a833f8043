package executor_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/executor"
	"github.com/quiverfi/quiver/pkg/mocks"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence/memory"
	"github.com/quiverfi/quiver/pkg/swap"
	"github.com/quiverfi/quiver/pkg/testutil"
	"github.com/quiverfi/quiver/pkg/vault"
)

type orchestratorFixture struct {
	orchestrator *executor.Orchestrator
	store        *memory.Persistence
	balances     *mocks.MockPriceAccessor
	provider     *mocks.MockSwapProvider
	bus          *mocks.MockEventBus
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	store := memory.NewPersistence()
	balances := new(mocks.MockPriceAccessor)
	provider := new(mocks.MockSwapProvider)
	bus := new(mocks.MockEventBus)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	ledger := vault.NewLedger(store, balances, logger)

	return &orchestratorFixture{
		orchestrator: executor.NewOrchestrator(store, ledger, provider, bus, logger),
		store:        store,
		balances:     balances,
		provider:     provider,
		bus:          bus,
	}
}

func executionRequest(workflowID string) *events.ExecutionRequested {
	return &events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent),
		WorkflowID:  workflowID,
		TriggeredBy: models.TriggeredBy{Manual: true},
	}
}

func TestOrchestrator_SuccessfulExecution(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 10)))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.provider.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&swap.Order{ID: "order-1"}, nil)
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)
	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, execution.ActionsExecuted)

	// The held collateral is correlated to the placed order.
	reservation, err := fixture.store.ReservationByCorrelationID(ctx, "order-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 1.0, reservation.Amount, 0.001)

	saved, err := fixture.store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.NotNil(t, saved.LastExecutedAt)

	fixture.bus.AssertCalled(t, "Publish", mock.Anything, workflow.OwnerID,
		mock.MatchedBy(func(event events.NotificationRequested) bool {
			return event.Kind == models.NotificationKindExecutionSucceeded
		}))
}

func TestOrchestrator_InsufficientBalanceFailsBeforeOrderPlacement(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow(testutil.WithSwapAmount(100))
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 50)))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(50.0, nil)
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)
	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 0, execution.ActionsExecuted)
	assert.Contains(t, execution.Error, "insufficient collateral")

	// No order was placed and no collateral was held.
	fixture.provider.AssertNotCalled(t, "CreateOrder")

	reservations, err := fixture.store.ReservationsByUser(ctx, workflow.OwnerID, "ethereum", "ETH")
	require.NoError(t, err)
	assert.Empty(t, reservations)

	fixture.bus.AssertCalled(t, "Publish", mock.Anything, workflow.OwnerID,
		mock.MatchedBy(func(event events.NotificationRequested) bool {
			return event.Kind == models.NotificationKindExecutionFailed
		}))
}

func TestOrchestrator_InsufficientCollateralAtReservationFails(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	// Wallet balance covers the swap, but nothing was deposited.
	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.provider.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&swap.Order{ID: "order-1"}, nil)
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)
	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

func TestOrchestrator_FailFastHaltsActionSequence(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	actions := []*models.Action{
		{
			ID: uuid.New().String(), Kind: models.ActionKindSwap, Position: 0,
			Swap: &models.SwapConfig{FromToken: "ETH", ToToken: "USDC", Amount: 1, ChainID: "ethereum"},
		},
		{
			ID: uuid.New().String(), Kind: models.ActionKindSwap, Position: 1,
			Swap: &models.SwapConfig{FromToken: "WBTC", ToToken: "USDC", Amount: 1, ChainID: "ethereum"},
		},
		{
			ID: uuid.New().String(), Kind: models.ActionKindSwap, Position: 2,
			Swap: &models.SwapConfig{FromToken: "DAI", ToToken: "USDC", Amount: 1, ChainID: "ethereum"},
		},
	}

	workflow := testutil.CreateTestWorkflow(testutil.WithActions(actions...))
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 10)))

	// The first swap clears, the second has no wallet balance.
	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "WBTC", "ethereum").Return(0.0, nil)

	fixture.provider.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&swap.Order{ID: "order-1"}, nil)
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)
	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, execution.ActionsExecuted)

	// The third action was never attempted.
	fixture.provider.AssertNumberOfCalls(t, "CreateOrder", 1)
	fixture.balances.AssertNotCalled(t, "GetBalance", mock.Anything, "0xabc", "DAI", "ethereum")
}

func TestOrchestrator_DeactivatedWorkflowSkipsWithoutRecord(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow(testutil.Inactive())
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))

	request := executionRequest(workflow.ID)
	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	_, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.Error(t, err)

	fixture.provider.AssertNotCalled(t, "CreateOrder")
}

func TestOrchestrator_MissingWorkflowAcksWithoutRecord(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)

	request := executionRequest("no-such-workflow")
	require.NoError(t, fixture.orchestrator.Handle(context.Background(), request))

	_, err := fixture.store.ExecutionByID(context.Background(), request.ID)
	require.Error(t, err)
}

func TestOrchestrator_TransientProviderFailureLeavesExecutionPending(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 10)))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.provider.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, errors.New("provider 503"))

	request := executionRequest(workflow.ID)

	err := fixture.orchestrator.Handle(ctx, request)
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))

	execution, loadErr := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
}

func TestOrchestrator_RejectedOrderFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 10)))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.provider.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: status 422", swap.ErrOrderRejected))
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)

	// The provider's verdict is final: the request is acked, not retried.
	err := fixture.orchestrator.Handle(ctx, request)
	require.NoError(t, err)

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "rejected")

	fixture.provider.AssertNumberOfCalls(t, "CreateOrder", 1)

	// No collateral was held for the refused order.
	reservations, err := fixture.store.ReservationsByUser(ctx, workflow.OwnerID, "ethereum", "ETH")
	require.NoError(t, err)
	assert.Empty(t, reservations)

	fixture.bus.AssertCalled(t, "Publish", mock.Anything, workflow.OwnerID,
		mock.MatchedBy(func(event events.NotificationRequested) bool {
			return event.Kind == models.NotificationKindExecutionFailed
		}))
}

func TestOrchestrator_RetryResumesAtFailedAction(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	actions := []*models.Action{
		{
			ID: uuid.New().String(), Kind: models.ActionKindSwap, Position: 0,
			Swap: &models.SwapConfig{FromToken: "ETH", ToToken: "USDC", Amount: 1, ChainID: "ethereum"},
		},
		{
			ID: uuid.New().String(), Kind: models.ActionKindSwap, Position: 1,
			Swap: &models.SwapConfig{FromToken: "WBTC", ToToken: "USDC", Amount: 1, ChainID: "ethereum"},
		},
	}

	workflow := testutil.CreateTestWorkflow(testutil.WithActions(actions...))
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "ETH", 10)))
	require.NoError(t, fixture.store.SaveDeposit(ctx, testutil.TestDeposit(workflow.OwnerID, "ethereum", "WBTC", 10)))

	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(5.0, nil)
	fixture.balances.On("GetBalance", mock.Anything, "0xabc", "WBTC", "ethereum").Return(5.0, nil)

	// First attempt: the first swap places, the second hits a transient
	// provider failure.
	fixture.provider.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req swap.OrderRequest) bool {
		return req.FromToken == "ETH"
	})).Return(&swap.Order{ID: "order-eth"}, nil).Once()
	fixture.provider.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req swap.OrderRequest) bool {
		return req.FromToken == "WBTC"
	})).Return(nil, errors.New("provider 503")).Once()

	request := executionRequest(workflow.ID)

	err := fixture.orchestrator.Handle(ctx, request)
	require.Error(t, err)
	require.True(t, engine.IsTransient(err))

	// Second attempt resumes at the second action and does not replay the
	// first swap.
	fixture.provider.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req swap.OrderRequest) bool {
		return req.FromToken == "WBTC"
	})).Return(&swap.Order{ID: "order-wbtc"}, nil).Once()
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	execution, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 2, execution.ActionsExecuted)

	// The order placed before the transient failure survives the retry and
	// reaches the success notification alongside the second one.
	assert.Equal(t, []string{"order-eth", "order-wbtc"}, execution.OrderIDs)

	fixture.bus.AssertCalled(t, "Publish", mock.Anything, workflow.OwnerID,
		mock.MatchedBy(func(event events.NotificationRequested) bool {
			if event.Kind != models.NotificationKindExecutionSucceeded {
				return false
			}

			orderIDs, ok := event.Metadata["order_ids"].([]string)

			return ok && assert.ObjectsAreEqual([]string{"order-eth", "order-wbtc"}, orderIDs)
		}))

	fixture.provider.AssertNumberOfCalls(t, "CreateOrder", 3)
}

func TestOrchestrator_IgnoresRedeliveryOfFinalizedRequest(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))

	request := executionRequest(workflow.ID)

	execution := models.NewExecution(request.ID, workflow.ID, request.TriggeredBy)
	require.NoError(t, execution.Complete())
	require.NoError(t, fixture.store.SaveExecution(ctx, execution))

	require.NoError(t, fixture.orchestrator.Handle(ctx, request))

	fixture.provider.AssertNotCalled(t, "CreateOrder")
	fixture.bus.AssertNotCalled(t, "Publish")
}

func TestOrchestrator_FinalizeExhausted(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, fixture.store.SaveWorkflow(ctx, workflow))
	fixture.bus.On("Publish", mock.Anything, workflow.OwnerID, mock.Anything).Return(nil)

	request := executionRequest(workflow.ID)

	execution := models.NewExecution(request.ID, workflow.ID, request.TriggeredBy)
	require.NoError(t, fixture.store.SaveExecution(ctx, execution))

	fixture.orchestrator.FinalizeExhausted(ctx, request, errors.New("provider 503"))

	finalized, err := fixture.store.ExecutionByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, finalized.Status)
	assert.Contains(t, finalized.Error, "retries exhausted")

	fixture.bus.AssertCalled(t, "Publish", mock.Anything, workflow.OwnerID,
		mock.MatchedBy(func(event events.NotificationRequested) bool {
			return event.Kind == models.NotificationKindExecutionFailed
		}))
}

func TestOrchestrator_RejectsUnexpectedPayload(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)

	err := fixture.orchestrator.Handle(context.Background(), &events.TriggerEvaluationRequested{})
	require.Error(t, err)
}
