package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	"github.com/conversant/backend/internal/data/repos/testutil"
	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/queue"
	"github.com/conversant/backend/internal/platform/resultstore"
)

type dispatchFixture struct {
	convs      ConversationService
	dispatcher JobDispatcher
	correlator *ResultCorrelator
	state      *JobState
	tasks      *queue.Stream
	results    *resultstore.Store
	user       *types.User
	rdb        *goredis.Client
}

func newDispatchFixture(t *testing.T, username string) *dispatchFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	messages := convrepo.NewMessageRepo(db, log)
	convs := NewConversationService(
		db, log,
		convrepo.NewConversationRepo(db, log),
		convrepo.NewAgentThreadRepo(db, log),
		messages,
	)

	tasks, err := queue.NewStream(rdb, log, "ai_tasks_queue")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	results, err := resultstore.NewStore(rdb, log, "code_result")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	state := NewJobState()
	user := testutil.SeedUser(t, context.Background(), db, username+"@example.com", username)

	return &dispatchFixture{
		convs:      convs,
		dispatcher: NewJobDispatcher(log, convs, messages, state, tasks),
		correlator: NewResultCorrelator(log, convs, state, results),
		state:      state,
		tasks:      tasks,
		results:    results,
		user:       user,
		rdb:        rdb,
	}
}

func (f *dispatchFixture) lastEnvelopeRaw(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()
	msgs, err := f.rdb.XRange(ctx, "ai_tasks_queue", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatalf("no envelope published")
	}
	data, _ := msgs[len(msgs)-1].Values["data"].(string)
	return []byte(data)
}

func (f *dispatchFixture) lastEnvelope(t *testing.T) taskEnvelope {
	t.Helper()
	var env taskEnvelope
	if err := json.Unmarshal(f.lastEnvelopeRaw(t), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestSubmitCreatesConversationAndPublishes(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-new")
	ctx := context.Background()

	res, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{
		AgentType:      "solver",
		Prompt:         "hello",
		ConversationID: "undefined",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID == "" {
		t.Fatalf("Submit: empty job id")
	}

	conv, err := f.convs.Get(ctx, f.user.ID, res.ConversationID)
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if conv.Title != "hello" {
		t.Fatalf("Submit: expected title from prompt, got %q", conv.Title)
	}

	history, err := f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Role != types.RoleUser || history[0].JobID == nil || *history[0].JobID != res.JobID {
		t.Fatalf("Submit: user message not persisted with job id: %+v", history)
	}

	env := f.lastEnvelope(t)
	if env.JobID != res.JobID || env.AgentType != "solver" || env.ConversationID != res.ConversationID.String() {
		t.Fatalf("envelope: %+v", env)
	}
	if len(env.ConversationHistory) != 1 || env.ConversationHistory[0].Content != "hello" {
		t.Fatalf("envelope history: %+v", env.ConversationHistory)
	}

	rec, ok := f.dispatcher.JobResult(res.JobID)
	if !ok || rec.Status != JobPending {
		t.Fatalf("JobResult: %+v ok=%v", rec, ok)
	}
}

func TestSubmitComposesAttachmentClause(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-files")
	ctx := context.Background()

	res, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{
		AgentType: "solver",
		Prompt:    "inspect these",
		Files: []Attachment{
			{Name: "a.csv", Content: []byte("1,2")},
			{Name: "b.txt", Content: []byte("hi")},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	history, err := f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := "inspect these\n\n[Attached: a.csv, b.txt]"
	if history[0].Content != want {
		t.Fatalf("content: got %q want %q", history[0].Content, want)
	}

	env := f.lastEnvelope(t)
	if len(env.Files) != 2 || env.Files[0].Name != "a.csv" || env.Files[0].Content == "" {
		t.Fatalf("envelope files: %+v", env.Files)
	}

	// Workers read attachments from the content_base64 key; check the raw
	// wire shape, not just the decoded struct.
	var raw struct {
		Files []map[string]string `json:"files"`
	}
	if err := json.Unmarshal(f.lastEnvelopeRaw(t), &raw); err != nil {
		t.Fatalf("decode raw envelope: %v", err)
	}
	if len(raw.Files) != 2 {
		t.Fatalf("raw envelope files: %+v", raw.Files)
	}
	encoded, ok := raw.Files[0]["content_base64"]
	if !ok || encoded == "" {
		t.Fatalf("raw envelope file keys: %+v", raw.Files[0])
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || string(decoded) != "1,2" {
		t.Fatalf("content_base64 payload: %q err=%v", encoded, err)
	}

	// Empty prompt uses the sent-files form.
	res2, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{
		AgentType: "solver",
		Prompt:    "",
		Files:     []Attachment{{Name: "only.bin", Content: []byte{1}}},
	})
	if err != nil {
		t.Fatalf("Submit (empty prompt): %v", err)
	}
	history2, err := f.convs.History(ctx, f.user.ID, res2.ConversationID, "solver")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history2[0].Content != "[Sent files: only.bin]" {
		t.Fatalf("content (empty prompt): %q", history2[0].Content)
	}
}

func TestWorkerReplyAppendsAssistantAndCompletes(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-reply")
	ctx := context.Background()

	res, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{AgentType: "solver", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	reply, _ := json.Marshal(map[string]any{
		"jobId":   res.JobID,
		"status":  "TASK_COMPLETED",
		"payload": map[string]string{"content": "world"},
	})
	if err := f.correlator.HandleWorkerReply(ctx, queue.Delivery{ID: "1-1", Data: reply}); err != nil {
		t.Fatalf("HandleWorkerReply: %v", err)
	}

	rec, ok := f.dispatcher.JobResult(res.JobID)
	if !ok || rec.Status != JobCompleted || rec.Answer != "world" || rec.MessageID == nil {
		t.Fatalf("JobResult: %+v ok=%v", rec, ok)
	}

	history, err := f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[1].Role != types.RoleAssistant || history[1].Content != "world" {
		t.Fatalf("History after reply: %+v", history)
	}

	// Duplicate delivery must not duplicate the assistant message.
	if err := f.correlator.HandleWorkerReply(ctx, queue.Delivery{ID: "1-2", Data: reply}); err != nil {
		t.Fatalf("HandleWorkerReply (dup): %v", err)
	}
	history, _ = f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if len(history) != 2 {
		t.Fatalf("duplicate reply duplicated assistant message: %d messages", len(history))
	}

	isLoading, hadError, _, err := f.dispatcher.ConversationStatus(ctx, f.user.ID, res.ConversationID)
	if err != nil || isLoading || hadError {
		t.Fatalf("ConversationStatus: loading=%v err=%v getErr=%v", isLoading, hadError, err)
	}
}

func TestWorkerFailureMarksJobError(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-fail")
	ctx := context.Background()

	res, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{AgentType: "solver", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	reply, _ := json.Marshal(map[string]any{"jobId": res.JobID, "status": "TASK_TIMEOUT"})
	if err := f.correlator.HandleWorkerReply(ctx, queue.Delivery{ID: "1-1", Data: reply}); err != nil {
		t.Fatalf("HandleWorkerReply: %v", err)
	}

	rec, ok := f.dispatcher.JobResult(res.JobID)
	if !ok || rec.Status != JobError || rec.Answer != "Task failed: TASK_TIMEOUT" {
		t.Fatalf("JobResult: %+v ok=%v", rec, ok)
	}
	isLoading, hadError, _, err := f.dispatcher.ConversationStatus(ctx, f.user.ID, res.ConversationID)
	if err != nil || isLoading || !hadError {
		t.Fatalf("ConversationStatus: loading=%v hadError=%v err=%v", isLoading, hadError, err)
	}

	// No assistant message for a failed job.
	history, _ := f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if len(history) != 1 {
		t.Fatalf("expected only the user message, got %d", len(history))
	}
}

func TestReplyForUnknownJobStillPersists(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-restart")
	ctx := context.Background()

	res, err := f.dispatcher.Submit(ctx, f.user, SubmitInput{AgentType: "solver", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Simulate a restart: dispatcher-side state is gone, the user message
	// is not.
	fresh := NewResultCorrelator(testutil.Logger(t), f.convs, NewJobState(), f.results)
	reply, _ := json.Marshal(map[string]any{
		"jobId":   res.JobID,
		"status":  "TASK_COMPLETED",
		"payload": map[string]string{"content": "late answer"},
	})
	if err := fresh.HandleWorkerReply(ctx, queue.Delivery{ID: "1-1", Data: reply}); err != nil {
		t.Fatalf("HandleWorkerReply: %v", err)
	}

	history, err := f.convs.History(ctx, f.user.ID, res.ConversationID, "solver")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[1].Content != "late answer" {
		t.Fatalf("History after restart reply: %+v", history)
	}
}

func TestCodeResultStored(t *testing.T) {
	f := newDispatchFixture(t, "dispatch-code")
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"jobId":         "code-job-1",
		"status":        "TASK_COMPLETED",
		"generatedCode": "print(42)",
	})
	if err := f.correlator.HandleCodeResult(ctx, queue.Delivery{ID: "1-1", Data: payload}); err != nil {
		t.Fatalf("HandleCodeResult: %v", err)
	}

	raw, ok, err := f.results.Get(ctx, "code-job-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["generatedCode"] != "print(42)" {
		t.Fatalf("stored result: %+v", got)
	}

	// Missing job id is a handler error (dead-letter path).
	bad, _ := json.Marshal(map[string]any{"status": "x"})
	if err := f.correlator.HandleCodeResult(ctx, queue.Delivery{ID: "1-2", Data: bad}); err == nil {
		t.Fatalf("HandleCodeResult: expected error for missing jobId")
	}
}
