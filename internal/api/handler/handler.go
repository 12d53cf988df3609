package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/buddy-work/internal/orchestrator/domain"
)

// WorkAssigner accepts work requests and reports background load
type WorkAssigner interface {
	AssignWork(ctx context.Context, req domain.WorkRequest) (domain.Assignment, error)
	InFlight() int64
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Assigner       WorkAssigner
	ServiceName    string
	ServiceVersion string

	// Router settings
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

// WorkHandler handles buddy work HTTP requests
type WorkHandler struct {
	logger         *slog.Logger
	assigner       WorkAssigner
	serviceName    string
	serviceVersion string
}

// NewWorkHandler creates a new WorkHandler instance
func NewWorkHandler(deps *Dependencies) *WorkHandler {
	return &WorkHandler{
		logger:         deps.Logger,
		assigner:       deps.Assigner,
		serviceName:    deps.ServiceName,
		serviceVersion: deps.ServiceVersion,
	}
}
