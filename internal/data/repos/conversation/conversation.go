package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/logger"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Conversation) ([]*types.Conversation, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Conversation, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uint) ([]*types.Conversation, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error
	Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	// DeleteCascade removes the conversation with its threads and messages.
	DeleteCascade(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// DeleteByUserCascade removes every conversation owned by the user, used
	// by account deletion.
	DeleteByUserCascade(ctx context.Context, tx *gorm.DB, userID uint) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (cr *conversationRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Conversation) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if len(rows) == 0 {
		return []*types.Conversation{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (cr *conversationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var results []*types.Conversation
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *conversationRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uint) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var results []*types.Conversation
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *conversationRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      title,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (cr *conversationRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}

func (cr *conversationRepo) DeleteCascade(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	return deleteConversations(transaction.WithContext(ctx), "conversation_id = ?", id)
}

func (cr *conversationRepo) DeleteByUserCascade(ctx context.Context, tx *gorm.DB, userID uint) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	gdb := transaction.WithContext(ctx)
	var ids []uuid.UUID
	if err := gdb.Model(&types.Conversation{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return deleteConversations(gdb, "conversation_id IN ?", ids)
}

// deleteConversations deletes messages, then threads, then the conversation
// rows matched by the thread condition. Foreign keys are not relied on for
// cascade; migrations run with FK constraints disabled.
func deleteConversations(gdb *gorm.DB, threadCond string, arg any) error {
	threadIDs := gdb.Session(&gorm.Session{NewDB: true}).
		Model(&types.AgentThread{}).
		Select("id").
		Where(threadCond, arg)
	if err := gdb.
		Where("agent_thread_id IN (?)", threadIDs).
		Delete(&types.Message{}).Error; err != nil {
		return err
	}
	if err := gdb.
		Where(threadCond, arg).
		Delete(&types.AgentThread{}).Error; err != nil {
		return err
	}
	switch threadCond {
	case "conversation_id = ?":
		return gdb.Where("id = ?", arg).Delete(&types.Conversation{}).Error
	default:
		return gdb.Where("id IN ?", arg).Delete(&types.Conversation{}).Error
	}
}
