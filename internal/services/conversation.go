package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	userrepo "github.com/conversant/backend/internal/data/repos/user"
	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

// ConversationService owns conversation CRUD and message appends. Every
// user-facing call takes the requesting user id and enforces ownership here;
// appends keyed by job id are system-side and skip that check.
type ConversationService interface {
	Create(ctx context.Context, userID uint, title string) (*types.Conversation, error)
	Get(ctx context.Context, userID uint, conversationID uuid.UUID) (*types.Conversation, error)
	List(ctx context.Context, userID uint) ([]*types.Conversation, error)
	Rename(ctx context.Context, userID uint, conversationID uuid.UUID, title string) error
	Delete(ctx context.Context, userID uint, conversationID uuid.UUID) error
	History(ctx context.Context, userID uint, conversationID uuid.UUID, agentType string) ([]*types.Message, error)
	// FullHistory returns every message in the conversation across all agent
	// threads, for display.
	FullHistory(ctx context.Context, userID uint, conversationID uuid.UUID) ([]*types.Message, error)
	AppendUserMessage(ctx context.Context, userID uint, conversationID uuid.UUID, agentType, content, jobID string) (*types.Message, error)
	// AppendAssistantByJobID attaches the worker's answer to the thread of
	// the user message carrying jobID. ok=false when no such user message
	// exists. duplicate=true when an assistant reply for the job is already
	// stored; nothing is inserted then.
	AppendAssistantByJobID(ctx context.Context, jobID, content string) (msg *types.Message, ok bool, duplicate bool, err error)
}

type conversationService struct {
	db       *gorm.DB
	log      *logger.Logger
	convRepo convrepo.ConversationRepo
	threads  convrepo.AgentThreadRepo
	messages convrepo.MessageRepo
}

func NewConversationService(
	db *gorm.DB,
	log *logger.Logger,
	convRepo convrepo.ConversationRepo,
	threads convrepo.AgentThreadRepo,
	messages convrepo.MessageRepo,
) ConversationService {
	return &conversationService{
		db:       db,
		log:      log.With("service", "ConversationService"),
		convRepo: convRepo,
		threads:  threads,
		messages: messages,
	}
}

func (cs *conversationService) Create(ctx context.Context, userID uint, title string) (*types.Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}
	now := time.Now().UTC()
	conv := &types.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := cs.convRepo.Create(ctx, nil, []*types.Conversation{conv}); err != nil {
		return nil, apierr.Internal("CONVERSATION_CREATE", err)
	}
	return conv, nil
}

// owned loads the conversation and checks the caller owns it.
func (cs *conversationService) owned(ctx context.Context, tx *gorm.DB, userID uint, conversationID uuid.UUID) (*types.Conversation, error) {
	convs, err := cs.convRepo.GetByIDs(ctx, tx, []uuid.UUID{conversationID})
	if err != nil {
		return nil, apierr.Internal("CONVERSATION_LOOKUP", err)
	}
	if len(convs) == 0 {
		return nil, apierr.NotFound("CONVERSATION_NOT_FOUND", fmt.Errorf("no such conversation"))
	}
	conv := convs[0]
	if conv.UserID != userID {
		return nil, apierr.Forbidden("CONVERSATION_FORBIDDEN", fmt.Errorf("conversation owned by another user"))
	}
	return conv, nil
}

func (cs *conversationService) Get(ctx context.Context, userID uint, conversationID uuid.UUID) (*types.Conversation, error) {
	return cs.owned(ctx, nil, userID, conversationID)
}

func (cs *conversationService) List(ctx context.Context, userID uint) ([]*types.Conversation, error) {
	convs, err := cs.convRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, apierr.Internal("CONVERSATION_LIST", err)
	}
	return convs, nil
}

func (cs *conversationService) Rename(ctx context.Context, userID uint, conversationID uuid.UUID, title string) error {
	if title == "" {
		return apierr.BadRequest("TITLE_REQUIRED", fmt.Errorf("title is required"))
	}
	if _, err := cs.owned(ctx, nil, userID, conversationID); err != nil {
		return err
	}
	if err := cs.convRepo.UpdateTitle(ctx, nil, conversationID, title); err != nil {
		return apierr.Internal("CONVERSATION_RENAME", err)
	}
	return nil
}

func (cs *conversationService) Delete(ctx context.Context, userID uint, conversationID uuid.UUID) error {
	if _, err := cs.owned(ctx, nil, userID, conversationID); err != nil {
		return err
	}
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cs.convRepo.DeleteCascade(ctx, tx, conversationID)
	})
	if err != nil {
		return apierr.Internal("CONVERSATION_DELETE", err)
	}
	return nil
}

func (cs *conversationService) History(ctx context.Context, userID uint, conversationID uuid.UUID, agentType string) ([]*types.Message, error) {
	if _, err := cs.owned(ctx, nil, userID, conversationID); err != nil {
		return nil, err
	}
	thread, err := cs.threads.GetByConversationAndType(ctx, nil, conversationID, agentType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []*types.Message{}, nil
		}
		return nil, apierr.Internal("THREAD_LOOKUP", err)
	}
	msgs, err := cs.messages.ListByThread(ctx, nil, thread.ID)
	if err != nil {
		return nil, apierr.Internal("HISTORY_LIST", err)
	}
	return msgs, nil
}

func (cs *conversationService) FullHistory(ctx context.Context, userID uint, conversationID uuid.UUID) ([]*types.Message, error) {
	if _, err := cs.owned(ctx, nil, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := cs.messages.ListByConversation(ctx, nil, conversationID)
	if err != nil {
		return nil, apierr.Internal("HISTORY_LIST", err)
	}
	return msgs, nil
}

func (cs *conversationService) AppendUserMessage(ctx context.Context, userID uint, conversationID uuid.UUID, agentType, content, jobID string) (*types.Message, error) {
	if _, err := cs.owned(ctx, nil, userID, conversationID); err != nil {
		return nil, err
	}
	msg, err := cs.append(ctx, conversationID, agentType, types.RoleUser, content, jobID)
	if err != nil {
		return nil, apierr.Internal("MESSAGE_APPEND", err)
	}
	return msg, nil
}

func (cs *conversationService) AppendAssistantByJobID(ctx context.Context, jobID, content string) (*types.Message, bool, bool, error) {
	userMsg, err := cs.messages.GetByJobIDAndRole(ctx, nil, jobID, types.RoleUser)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, false, nil
		}
		return nil, false, false, apierr.Internal("MESSAGE_LOOKUP", err)
	}

	var out *types.Message
	duplicate := false
	txErr := cs.appendTx(ctx, func(tx *gorm.DB) error {
		out = nil
		duplicate = false
		exists, err := cs.messages.ExistsByThreadJobRole(ctx, tx, userMsg.AgentThreadID, jobID, types.RoleAssistant)
		if err != nil {
			return err
		}
		if exists {
			duplicate = true
			return nil
		}

		threads, err := cs.threads.GetByIDs(ctx, tx, []uuid.UUID{userMsg.AgentThreadID})
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			return fmt.Errorf("thread %s missing for message %s", userMsg.AgentThreadID, userMsg.ID)
		}
		thread := threads[0]

		msg, err := cs.insertMessage(ctx, tx, thread, types.RoleAssistant, content, jobID)
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	if txErr != nil {
		return nil, true, false, apierr.Internal("MESSAGE_APPEND", txErr)
	}
	return out, true, duplicate, nil
}

// appendTx runs an append transaction, retrying once when a concurrent
// append to the same thread took the same seq and the insert tripped the
// unique (agent_thread_id, seq) index. The retry reruns the whole function
// so the seq is re-read in a fresh transaction.
func (cs *conversationService) appendTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := cs.db.WithContext(ctx).Transaction(fn)
	if err != nil && userrepo.IsUniqueViolation(err) {
		cs.log.Warn("message seq collision, retrying append", "error", err)
		err = cs.db.WithContext(ctx).Transaction(fn)
	}
	return err
}

// append inserts a message in one transaction: thread resolved lazily, seq
// taken from the thread max, thread and conversation updated_at bumped.
func (cs *conversationService) append(ctx context.Context, conversationID uuid.UUID, agentType, role, content, jobID string) (*types.Message, error) {
	var out *types.Message
	err := cs.appendTx(ctx, func(tx *gorm.DB) error {
		out = nil
		thread, err := cs.threads.GetOrCreate(ctx, tx, conversationID, agentType)
		if err != nil {
			return err
		}
		msg, err := cs.insertMessage(ctx, tx, thread, role, content, jobID)
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (cs *conversationService) insertMessage(ctx context.Context, tx *gorm.DB, thread *types.AgentThread, role, content, jobID string) (*types.Message, error) {
	maxSeq, err := cs.messages.GetMaxSeq(ctx, tx, thread.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	msg := &types.Message{
		ID:            uuid.New(),
		AgentThreadID: thread.ID,
		Seq:           maxSeq + 1,
		Role:          role,
		Content:       content,
		Timestamp:     now,
	}
	if jobID != "" {
		msg.JobID = &jobID
	}
	if _, err := cs.messages.Create(ctx, tx, []*types.Message{msg}); err != nil {
		return nil, err
	}
	if err := cs.threads.Touch(ctx, tx, thread.ID, now); err != nil {
		return nil, err
	}
	if err := cs.convRepo.Touch(ctx, tx, thread.ConversationID, now); err != nil {
		return nil, err
	}
	return msg, nil
}
