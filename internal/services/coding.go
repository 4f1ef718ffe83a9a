package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/queue"
	"github.com/conversant/backend/internal/platform/resultstore"
	"github.com/google/uuid"
)

// CodingService submits raw code for sandboxed execution and polls results.
type CodingService interface {
	Execute(ctx context.Context, code string) (string, error)
	// Result checks the ephemeral store first, then falls back to the
	// assistant message persisted for the job. ok=false means still pending.
	Result(ctx context.Context, jobID string) (json.RawMessage, bool, error)
}

type codingService struct {
	log       *logger.Logger
	execution *queue.Stream
	results   *resultstore.Store
	messages  convrepo.MessageRepo
}

func NewCodingService(
	log *logger.Logger,
	execution *queue.Stream,
	results *resultstore.Store,
	messages convrepo.MessageRepo,
) CodingService {
	return &codingService{
		log:       log.With("service", "CodingService"),
		execution: execution,
		results:   results,
		messages:  messages,
	}
}

type codeTask struct {
	JobID    string `json:"jobId"`
	TaskType string `json:"taskType"`
	Code     string `json:"code"`
}

func (cs *codingService) Execute(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", apierr.BadRequest("CODE_REQUIRED", fmt.Errorf("code is required"))
	}
	jobID := uuid.NewString()
	task := codeTask{JobID: jobID, TaskType: "coding", Code: code}
	if err := cs.execution.Publish(ctx, task); err != nil {
		return "", apierr.Upstream("CODE_PUBLISH_FAILED", fmt.Errorf("publish code task: %w", err))
	}
	cs.log.Info("code execution submitted", "job_id", jobID)
	return jobID, nil
}

func (cs *codingService) Result(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	if jobID == "" {
		return nil, false, apierr.BadRequest("JOB_ID_REQUIRED", fmt.Errorf("jobId is required"))
	}
	raw, ok, err := cs.results.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return raw, true, nil
	}

	// The ephemeral entry may have expired; the assistant message survives.
	msg, err := cs.messages.GetByJobIDAndRole(ctx, nil, jobID, types.RoleAssistant)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, apierr.Internal("MESSAGE_LOOKUP", err)
	}
	fallback, mErr := json.Marshal(map[string]string{
		"status":    statusTaskCompleted,
		"answer":    msg.Content,
		"messageId": msg.ID.String(),
		"jobId":     jobID,
	})
	if mErr != nil {
		return nil, false, apierr.Internal("RESULT_MARSHAL", mErr)
	}
	return fallback, true, nil
}
