package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/queue"
	"github.com/conversant/backend/internal/platform/resultstore"
)

// VisualizationService turns solver output into a rendering job for the
// visualization worker.
type VisualizationService interface {
	Generate(ctx context.Context, solverOutput, context_ string) (string, error)
	Result(ctx context.Context, jobID string) (json.RawMessage, bool, error)
}

type visualizationService struct {
	log     *logger.Logger
	tasks   *queue.Stream
	results *resultstore.Store
}

func NewVisualizationService(log *logger.Logger, tasks *queue.Stream, results *resultstore.Store) VisualizationService {
	return &visualizationService{
		log:     log.With("service", "VisualizationService"),
		tasks:   tasks,
		results: results,
	}
}

type visualizationTask struct {
	JobID        string `json:"jobId"`
	TaskType     string `json:"taskType"`
	SolverOutput string `json:"solverOutput"`
	Context      string `json:"context"`
}

func (vs *visualizationService) Generate(ctx context.Context, solverOutput, context_ string) (string, error) {
	if strings.TrimSpace(solverOutput) == "" {
		return "", apierr.BadRequest("SOLVER_OUTPUT_REQUIRED", fmt.Errorf("solverOutput is required"))
	}
	jobID := uuid.NewString()
	task := visualizationTask{
		JobID:        jobID,
		TaskType:     "visualize",
		SolverOutput: solverOutput,
		Context:      context_,
	}
	if err := vs.tasks.Publish(ctx, task); err != nil {
		return "", apierr.Upstream("VISUALIZATION_PUBLISH_FAILED", fmt.Errorf("publish visualization task: %w", err))
	}
	vs.log.Info("visualization submitted", "job_id", jobID)
	return jobID, nil
}

func (vs *visualizationService) Result(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	if jobID == "" {
		return nil, false, apierr.BadRequest("JOB_ID_REQUIRED", fmt.Errorf("jobId is required"))
	}
	return vs.results.Get(ctx, jobID)
}
