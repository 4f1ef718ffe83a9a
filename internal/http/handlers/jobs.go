package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/conversant/backend/internal/http/middleware"
	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/services"
)

// maxAttachmentBytes bounds a single uploaded file.
const maxAttachmentBytes = 10 << 20

type JobsHandler struct {
	dispatcher services.JobDispatcher
}

func NewJobsHandler(dispatcher services.JobDispatcher) *JobsHandler {
	return &JobsHandler{dispatcher: dispatcher}
}

func (jh *JobsHandler) Submit(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	form, err := c.MultipartForm()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	in := services.SubmitInput{
		AgentType:              formValue(form.Value, "agentType"),
		Prompt:                 formValue(form.Value, "prompt"),
		ConversationID:         formValue(form.Value, "conversationId"),
		AcceptedModelMessageID: formValue(form.Value, "acceptedModelMessageId"),
		AcceptedCodeMessageID:  formValue(form.Value, "acceptedCodeMessageId"),
	}

	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
			return
		}
		content, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
		f.Close()
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
			return
		}
		if len(content) > maxAttachmentBytes {
			response.RespondError(c, http.StatusBadRequest, "file_too_large",
				fmt.Errorf("%s exceeds the %d byte limit", fh.Filename, maxAttachmentBytes))
			return
		}
		in.Files = append(in.Files, services.Attachment{Name: fh.Filename, Content: content})
	}

	res, err := jh.dispatcher.Submit(c.Request.Context(), user, in)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"jobId":          res.JobID,
		"status":         "queued",
		"conversationId": res.ConversationID,
	})
}

// Get polls a job. Only a completed job answers 200; pending, unknown and
// failed jobs all answer 202 so the client keeps its polling loop simple.
func (jh *JobsHandler) Get(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("jobId query parameter is required"))
		return
	}

	rec, ok := jh.dispatcher.JobResult(jobID)
	if !ok {
		response.RespondAccepted(c, gin.H{"status": "not_found"})
		return
	}
	switch rec.Status {
	case services.JobCompleted:
		body := gin.H{"status": "completed", "answer": rec.Answer}
		if rec.MessageID != nil {
			body["messageId"] = rec.MessageID
		}
		response.RespondOK(c, body)
	case services.JobError:
		response.RespondAccepted(c, gin.H{"status": "error", "answer": rec.Answer})
	default:
		response.RespondAccepted(c, gin.H{"status": "pending"})
	}
}

func (jh *JobsHandler) ConversationStatus(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	conversationID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}

	isLoading, hadError, jobID, err := jh.dispatcher.ConversationStatus(c.Request.Context(), user.ID, conversationID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	body := gin.H{
		"conversationId": conversationID,
		"isLoading":      isLoading,
		"hadError":       hadError,
	}
	if jobID != "" {
		body["jobId"] = jobID
	}
	response.RespondOK(c, body)
}

func formValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
