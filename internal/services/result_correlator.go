package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/queue"
	"github.com/conversant/backend/internal/platform/resultstore"
)

const noAnswer = "No answer available"

// workerReply is the envelope workers publish on the review queue.
type workerReply struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Payload struct {
		Content string `json:"content"`
	} `json:"payload"`
}

const statusTaskCompleted = "TASK_COMPLETED"

// ResultCorrelator applies worker replies: assistant message into the
// originating thread, terminal status into the job ledger, raw
// code-execution results into the ephemeral result store.
type ResultCorrelator struct {
	log     *logger.Logger
	convs   ConversationService
	state   *JobState
	results *resultstore.Store
}

func NewResultCorrelator(
	log *logger.Logger,
	convs ConversationService,
	state *JobState,
	results *resultstore.Store,
) *ResultCorrelator {
	return &ResultCorrelator{
		log:     log.With("service", "ResultCorrelator"),
		convs:   convs,
		state:   state,
		results: results,
	}
}

// HandleWorkerReply consumes one reply from the review queue. Unparseable
// payloads error out to the dead-letter path; replies for unknown jobs are
// logged and dropped.
func (rc *ResultCorrelator) HandleWorkerReply(ctx context.Context, d queue.Delivery) error {
	var reply workerReply
	if err := json.Unmarshal(d.Data, &reply); err != nil {
		return fmt.Errorf("decode worker reply: %w", err)
	}
	if reply.JobID == "" {
		return fmt.Errorf("worker reply without jobId")
	}

	answer := reply.Payload.Content
	if answer == "" {
		answer = noAnswer
	}

	if reply.Status != statusTaskCompleted {
		reason := "Task failed: " + reply.Status
		if !rc.state.Fail(reply.JobID, reason) {
			rc.log.Warn("terminal status for unknown job", "job_id", reply.JobID, "status", reply.Status)
		}
		rc.log.Info("job failed", "job_id", reply.JobID, "status", reply.Status)
		return nil
	}

	msg, ok, duplicate, err := rc.convs.AppendAssistantByJobID(ctx, reply.JobID, answer)
	if err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	if !ok {
		// No matching user message, e.g. the DB was cleared. Dropped, not
		// retried.
		rc.log.Warn("reply matches no user message, dropping", "job_id", reply.JobID)
		return nil
	}
	if duplicate {
		rc.log.Warn("duplicate reply ignored", "job_id", reply.JobID)
		return nil
	}

	if !rc.state.Complete(reply.JobID, answer, &msg.ID) {
		rc.log.Warn("completed job had no pending entry", "job_id", reply.JobID)
	}
	rc.log.Info("job completed", "job_id", reply.JobID, "message_id", msg.ID)
	return nil
}

// HandleCodeResult stashes a raw code-execution result for polling. The
// payload shape is worker-defined; only jobId is required.
func (rc *ResultCorrelator) HandleCodeResult(ctx context.Context, d queue.Delivery) error {
	var payload map[string]any
	if err := json.Unmarshal(d.Data, &payload); err != nil {
		return fmt.Errorf("decode code result: %w", err)
	}
	jobID, _ := payload["jobId"].(string)
	if jobID == "" {
		return fmt.Errorf("code result without jobId")
	}
	if err := rc.results.Put(ctx, jobID, payload); err != nil {
		return err
	}
	rc.log.Info("code result stored", "job_id", jobID)
	return nil
}
