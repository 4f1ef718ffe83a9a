package services

import (
	"sync"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// JobRecord is the correlator's view of one job. Answer carries the
// assistant reply on completion or the failure reason on error.
type JobRecord struct {
	Status         JobStatus
	Answer         string
	MessageID      *uuid.UUID
	ConversationID uuid.UUID
}

// JobState is the process-local job ledger shared by the dispatcher and the
// correlator. Restart loses it; persisted messages survive on their own.
type JobState struct {
	mu           sync.Mutex
	jobs         map[string]*JobRecord
	active       map[uuid.UUID]string
	lastTerminal map[uuid.UUID]JobStatus
}

func NewJobState() *JobState {
	return &JobState{
		jobs:         make(map[string]*JobRecord),
		active:       make(map[uuid.UUID]string),
		lastTerminal: make(map[uuid.UUID]JobStatus),
	}
}

// Submit records a pending job and makes it the conversation's active job,
// clearing any previous terminal status. A prior pending job for the same
// conversation keeps its record; only the pointer moves.
func (js *JobState) Submit(jobID string, conversationID uuid.UUID) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs[jobID] = &JobRecord{
		Status:         JobPending,
		ConversationID: conversationID,
	}
	js.active[conversationID] = jobID
	delete(js.lastTerminal, conversationID)
}

// Complete marks the job done. known=false means the dispatcher never saw
// the job in this process lifetime (e.g. restart).
func (js *JobState) Complete(jobID, answer string, messageID *uuid.UUID) (known bool) {
	return js.finish(jobID, JobCompleted, answer, messageID)
}

// Fail marks the job failed with a reason.
func (js *JobState) Fail(jobID, reason string) (known bool) {
	return js.finish(jobID, JobError, reason, nil)
}

func (js *JobState) finish(jobID string, status JobStatus, answer string, messageID *uuid.UUID) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	rec, ok := js.jobs[jobID]
	if !ok {
		return false
	}
	rec.Status = status
	rec.Answer = answer
	rec.MessageID = messageID
	js.lastTerminal[rec.ConversationID] = status
	// Clear the pointer only if it still points here; a newer submit may
	// have replaced it.
	if js.active[rec.ConversationID] == jobID {
		delete(js.active, rec.ConversationID)
	}
	return true
}

func (js *JobState) Get(jobID string) (JobRecord, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	rec, ok := js.jobs[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// ConversationStatus reports liveness for a conversation: whether a job is
// in flight, whether the last finished job errored, and the active job id.
func (js *JobState) ConversationStatus(conversationID uuid.UUID) (isLoading bool, hadError bool, jobID string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	jobID, isLoading = js.active[conversationID]
	hadError = js.lastTerminal[conversationID] == JobError
	return isLoading, hadError, jobID
}
