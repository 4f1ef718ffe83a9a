package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/queue"
)

// Attachment is an uploaded file carried along with a prompt.
type Attachment struct {
	Name    string
	Content []byte
}

type SubmitInput struct {
	AgentType              string
	Prompt                 string
	ConversationID         string
	AcceptedModelMessageID string
	AcceptedCodeMessageID  string
	Files                  []Attachment
}

type SubmitResult struct {
	JobID          string
	ConversationID uuid.UUID
}

// envelopeFile is the wire shape of one attachment. Workers read the payload
// from the content_base64 key.
type envelopeFile struct {
	Name    string `json:"name"`
	Content string `json:"content_base64"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// taskEnvelope is what the worker receives on the AI-tasks queue.
type taskEnvelope struct {
	JobID               string         `json:"jobId"`
	AgentType           string         `json:"agentType"`
	Prompt              string         `json:"prompt"`
	ConversationID      string         `json:"conversationId"`
	ConversationHistory []historyEntry `json:"conversationHistory"`
	Files               []envelopeFile `json:"files"`
	AcceptedModel       string         `json:"acceptedModel,omitempty"`
	AcceptedCode        string         `json:"acceptedCode,omitempty"`
}

type JobDispatcher interface {
	Submit(ctx context.Context, user *types.User, in SubmitInput) (SubmitResult, error)
	JobResult(jobID string) (JobRecord, bool)
	ConversationStatus(ctx context.Context, userID uint, conversationID uuid.UUID) (isLoading bool, hadError bool, jobID string, err error)
}

type jobDispatcher struct {
	log      *logger.Logger
	convs    ConversationService
	messages convrepo.MessageRepo
	state    *JobState
	tasks    *queue.Stream
}

func NewJobDispatcher(
	log *logger.Logger,
	convs ConversationService,
	messages convrepo.MessageRepo,
	state *JobState,
	tasks *queue.Stream,
) JobDispatcher {
	return &jobDispatcher{
		log:      log.With("service", "JobDispatcher"),
		convs:    convs,
		messages: messages,
		state:    state,
		tasks:    tasks,
	}
}

func isSentinelConversationID(s string) bool {
	switch s {
	case "", "undefined", "null":
		return true
	}
	return false
}

const titleLimit = 50

// titleFromPrompt derives a conversation title from the first prompt.
func titleFromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "New Conversation"
	}
	runes := []rune(prompt)
	if len(runes) <= titleLimit {
		return prompt
	}
	return string(runes[:titleLimit]) + "..."
}

// composeContent is the persisted form of the user turn: the prompt plus an
// attachment clause listing the file names.
func composeContent(prompt string, files []Attachment) string {
	if len(files) == 0 {
		return prompt
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	joined := strings.Join(names, ", ")
	if strings.TrimSpace(prompt) == "" {
		return "[Sent files: " + joined + "]"
	}
	return prompt + "\n\n[Attached: " + joined + "]"
}

func (jd *jobDispatcher) Submit(ctx context.Context, user *types.User, in SubmitInput) (SubmitResult, error) {
	if user == nil {
		return SubmitResult{}, apierr.Unauthorized("USER_REQUIRED", fmt.Errorf("authenticated user required"))
	}
	if strings.TrimSpace(in.AgentType) == "" {
		return SubmitResult{}, apierr.BadRequest("AGENT_TYPE_REQUIRED", fmt.Errorf("agentType is required"))
	}

	jobID := uuid.NewString()

	var conv *types.Conversation
	var err error
	if isSentinelConversationID(in.ConversationID) {
		conv, err = jd.convs.Create(ctx, user.ID, titleFromPrompt(in.Prompt))
		if err != nil {
			return SubmitResult{}, err
		}
	} else {
		convID, pErr := uuid.Parse(in.ConversationID)
		if pErr != nil {
			return SubmitResult{}, apierr.BadRequest("CONVERSATION_ID_INVALID", fmt.Errorf("parse conversation id: %w", pErr))
		}
		conv, err = jd.convs.Get(ctx, user.ID, convID)
		if err != nil {
			return SubmitResult{}, err
		}
	}

	content := composeContent(in.Prompt, in.Files)
	if _, err := jd.convs.AppendUserMessage(ctx, user.ID, conv.ID, in.AgentType, content, jobID); err != nil {
		return SubmitResult{}, err
	}

	// History read back after the append, so the envelope carries the new
	// user turn as its last entry.
	history, err := jd.convs.History(ctx, user.ID, conv.ID, in.AgentType)
	if err != nil {
		return SubmitResult{}, err
	}
	entries := make([]historyEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, historyEntry{Role: m.Role, Content: m.Content})
	}

	files := make([]envelopeFile, 0, len(in.Files))
	for _, f := range in.Files {
		files = append(files, envelopeFile{
			Name:    f.Name,
			Content: base64.StdEncoding.EncodeToString(f.Content),
		})
	}

	env := taskEnvelope{
		JobID:               jobID,
		AgentType:           in.AgentType,
		Prompt:              in.Prompt,
		ConversationID:      conv.ID.String(),
		ConversationHistory: entries,
		Files:               files,
	}
	if env.AcceptedModel, err = jd.resolveAccepted(ctx, in.AcceptedModelMessageID); err != nil {
		return SubmitResult{}, err
	}
	if env.AcceptedCode, err = jd.resolveAccepted(ctx, in.AcceptedCodeMessageID); err != nil {
		return SubmitResult{}, err
	}

	jd.state.Submit(jobID, conv.ID)
	if err := jd.tasks.Publish(ctx, env); err != nil {
		jd.state.Fail(jobID, "publish failed")
		return SubmitResult{}, apierr.Upstream("TASK_PUBLISH_FAILED", fmt.Errorf("publish task: %w", err))
	}

	jd.log.Info("job submitted",
		"job_id", jobID,
		"agent_type", in.AgentType,
		"conversation_id", conv.ID,
		"history_len", len(entries),
		"files", len(files))
	return SubmitResult{JobID: jobID, ConversationID: conv.ID}, nil
}

// resolveAccepted inlines the content of a previously accepted message.
func (jd *jobDispatcher) resolveAccepted(ctx context.Context, rawID string) (string, error) {
	if rawID == "" {
		return "", nil
	}
	msgID, err := uuid.Parse(rawID)
	if err != nil {
		// Malformed accepted ids are ignored, not fatal.
		jd.log.Warn("ignoring malformed accepted message id", "raw", rawID)
		return "", nil
	}
	msgs, err := jd.messages.GetByIDs(ctx, nil, []uuid.UUID{msgID})
	if err != nil {
		return "", apierr.Internal("MESSAGE_LOOKUP", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Content, nil
}

func (jd *jobDispatcher) JobResult(jobID string) (JobRecord, bool) {
	return jd.state.Get(jobID)
}

func (jd *jobDispatcher) ConversationStatus(ctx context.Context, userID uint, conversationID uuid.UUID) (bool, bool, string, error) {
	if _, err := jd.convs.Get(ctx, userID, conversationID); err != nil {
		return false, false, "", err
	}
	isLoading, hadError, jobID := jd.state.ConversationStatus(conversationID)
	return isLoading, hadError, jobID, nil
}
