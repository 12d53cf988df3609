package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/buddy-work/internal/api/dto"
	"github.com/cuongbtq/buddy-work/internal/orchestrator/domain"
	"github.com/cuongbtq/buddy-work/shared/recordstore"
)

const assignedMessage = "Successfully assigned Buddy Work"

// AssignWork handles POST /assign_buddy_work/
// Records the job and returns before the work itself runs.
func (h *WorkHandler) AssignWork(c *gin.Context) {
	var req dto.AssignWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Detail: "Invalid request body: " + err.Error(),
		})
		return
	}

	assignment, err := h.assigner.AssignWork(c.Request.Context(), req.ToDomain())
	if err != nil {
		_ = c.Error(err)
		status, detail := errorResponse(err)
		c.JSON(status, dto.ErrorResponse{Detail: detail})
		return
	}

	c.JSON(http.StatusOK, dto.AssignWorkResponse{
		Message:  assignedMessage,
		RecordID: assignment.RecordID,
		Status:   assignment.Status,
	})
}

// Health handles GET /health
func (h *WorkHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:   "healthy",
		Service:  h.serviceName,
		Version:  h.serviceVersion,
		InFlight: h.assigner.InFlight(),
	})
}

// errorResponse maps orchestrator errors to an HTTP status and detail
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "Invalid authentication key"
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrAtCapacity):
		return http.StatusServiceUnavailable, "Service is at capacity, retry later"
	case errors.Is(err, recordstore.ErrStoreUnavailable):
		return http.StatusBadGateway, "Failed to create record: " + upstreamDetail(err)
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// upstreamDetail exposes the store's status and message, never the URL
func upstreamDetail(err error) string {
	var se *recordstore.StatusError
	if errors.As(err, &se) {
		return se.Error()
	}
	return recordstore.ErrStoreUnavailable.Error()
}
