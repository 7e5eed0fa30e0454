package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/task"
	"github.com/jkaninda/okapi"
)

// **** Task request/response types ****

// TaskRequest is the JSON body for POST /v1/tasks.
type TaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskUpdateRequest is the JSON body for PUT /v1/tasks/{id}.
// Pointer fields distinguish absent from empty.
type TaskUpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

// TaskResponse is the JSON response for task endpoints.
type TaskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTaskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID.String(),
		Title:       t.Title,
		Description: t.Description,
		IsCompleted: t.IsCompleted,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// **** Handlers ****

func (g *Gateway) handleTaskList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	tasks, err := g.tasks.List(c.Context(), userID)
	if err != nil {
		return c.AbortInternalServerError("failed to list tasks")
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = toTaskResponse(&tasks[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleTaskCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if err := task.ValidateTitle(req.Title); err != nil {
		return c.AbortBadRequest(err.Error())
	}
	if err := task.ValidateDescription(req.Description); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	created, err := g.tasks.Create(c.Context(), userID, req.Title, req.Description)
	if err != nil {
		g.logger.Error("task creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create task")
	}

	g.logger.Info("task created",
		slog.String("task_id", created.ID.String()),
		slog.String("user_id", userID),
	)

	return c.JSON(http.StatusCreated, toTaskResponse(created))
}

func (g *Gateway) handleTaskGet(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	t, err := g.tasks.GetByID(c.Context(), userID, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		}
		return c.AbortInternalServerError("failed to load task")
	}

	return c.OK(toTaskResponse(t))
}

func (g *Gateway) handleTaskUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	var req TaskUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Title != nil {
		if err := task.ValidateTitle(*req.Title); err != nil {
			return c.AbortBadRequest(err.Error())
		}
	}
	if req.Description != nil {
		if err := task.ValidateDescription(*req.Description); err != nil {
			return c.AbortBadRequest(err.Error())
		}
	}

	updated, err := g.tasks.Update(c.Context(), userID, id, task.Update{
		Title:       req.Title,
		Description: req.Description,
		IsCompleted: req.IsCompleted,
	})
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		}
		return c.AbortInternalServerError("failed to update task")
	}

	return c.OK(toTaskResponse(updated))
}

func (g *Gateway) handleTaskToggle(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	t, err := g.tasks.Toggle(c.Context(), userID, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		}
		return c.AbortInternalServerError("failed to toggle task")
	}

	return c.OK(toTaskResponse(t))
}

func (g *Gateway) handleTaskDelete(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	if err := g.tasks.Delete(c.Context(), userID, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		}
		return c.AbortInternalServerError("failed to delete task")
	}

	g.logger.Info("task deleted",
		slog.String("task_id", id.String()),
		slog.String("user_id", userID),
	)

	return c.JSON(http.StatusNoContent, nil)
}
