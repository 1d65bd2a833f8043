// Package web provides the HTTP handlers of the rule automation API.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

type APIHandlers struct {
	store     persistence.Persistence
	engine    *engine.Engine
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	store persistence.Persistence,
	eng *engine.Engine,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		store:     store,
		engine:    eng,
		validator: validate,
		logger:    logger,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	filter := persistence.WorkflowFilter{}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid active filter: "+err.Error())
		}

		filter.ActiveOnly = active
	}

	workflows, err := h.store.Workflows(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.buildWorkflow(req)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if err := h.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// buildWorkflow decodes the request's configuration blobs through the same
// schema-validated path repository rows take, so an unknown kind or
// malformed blob never reaches storage.
func (h *APIHandlers) buildWorkflow(req CreateWorkflowRequest) (*models.Workflow, error) {
	workflowID := uuid.New().String()

	trigger, err := models.DecodeTrigger(
		uuid.New().String(), workflowID, req.Trigger.Chain, req.Trigger.Kind, normalizeConfig(req.Trigger.Config))
	if err != nil {
		return nil, err
	}

	conditions := make([]*models.Condition, 0, len(req.Conditions))

	for _, def := range req.Conditions {
		condition, err := models.DecodeCondition(uuid.New().String(), workflowID, def.Kind, normalizeConfig(def.Config))
		if err != nil {
			return nil, err
		}

		conditions = append(conditions, condition)
	}

	actions := make([]*models.Action, 0, len(req.Actions))

	for position, def := range req.Actions {
		action, err := models.DecodeAction(uuid.New().String(), workflowID, def.Kind, position, normalizeConfig(def.Config))
		if err != nil {
			return nil, err
		}

		actions = append(actions, action)
	}

	return &models.Workflow{
		ID:            workflowID,
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Description:   req.Description,
		WalletAddress: req.WalletAddress,
		IsActive:      true,
		Trigger:       trigger,
		Conditions:    conditions,
		Actions:       actions,
	}, nil
}

func normalizeConfig(config []byte) []byte {
	if len(config) == 0 {
		return []byte("{}")
	}

	return config
}

func (h *APIHandlers) ToggleWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ToggleWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	workflow.IsActive = req.IsActive

	if err := h.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.store.DeleteWorkflow(c.Context(), id); err != nil {
		return handleRepositoryError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TriggerWorkflow enqueues a manual execution of one workflow.
func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if !workflow.IsActive {
		return badRequest(c, "Workflow is not active")
	}

	triggeredBy := models.TriggeredBy{
		Manual:    true,
		Timestamp: time.Now().UTC(),
	}

	if err := h.engine.EnqueueExecution(c.Context(), workflow.ID, triggeredBy); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflow_id":  workflow.ID,
		"triggered_by": triggeredBy.String(),
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+err.Error())
		}

		limit = parsed
	}

	executions, err := h.store.ExecutionsByWorkflow(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) CreateDeposit(c fiber.Ctx) error {
	var req CreateDepositRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	deposit := &models.Deposit{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		WorkflowID: req.WorkflowID,
		Chain:      req.Chain,
		Token:      req.Token,
		Amount:     req.Amount,
		TxHash:     req.TxHash,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.store.SaveDeposit(c.Context(), deposit); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(deposit)
}

func (h *APIHandlers) GetDeposits(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	deposits, err := h.store.DepositsByUser(c.Context(), userID, c.Query("chain"), c.Query("token"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"deposits": deposits})
}

func (h *APIHandlers) GetNotifications(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	notifications, err := h.store.NotificationsByUser(c.Context(), userID, 0)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"notifications": notifications})
}

func (h *APIHandlers) GetPreferences(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	prefs, err := h.store.ChannelPreferences(c.Context(), userID)
	if err != nil {
		if persistence.IsPreferencesNotFound(err) {
			return c.JSON(&models.ChannelPreferences{UserID: userID})
		}

		return internalError(c, err)
	}

	return c.JSON(prefs)
}

func (h *APIHandlers) UpdatePreferences(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	var req UpdatePreferencesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	prefs := &models.ChannelPreferences{
		UserID:       userID,
		EmailEnabled: req.EmailEnabled,
		EmailAddress: req.EmailAddress,
		ChatEnabled:  req.ChatEnabled,
		ChatID:       req.ChatID,
		PushEnabled:  req.PushEnabled,
		PushToken:    req.PushToken,
	}

	if err := h.store.SaveChannelPreferences(c.Context(), prefs); err != nil {
		return internalError(c, err)
	}

	return c.JSON(prefs)
}

// GetQueueStats exposes the enqueue/processed counters of this process.
func (h *APIHandlers) GetQueueStats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"queues": h.engine.Stats()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Quiver API is healthy"
	httpStatus := http.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Quiver API is unhealthy"
		httpStatus = http.StatusInternalServerError

		h.logger.ErrorContext(c.Context(), "health check failed", "error", err)
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
