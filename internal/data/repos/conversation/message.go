package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Message) ([]*types.Message, error)
	GetMaxSeq(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (int64, error)
	// ListByThread returns the thread history in insertion order: timestamp
	// ascending with the per-thread seq as a stable tiebreak.
	ListByThread(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) ([]*types.Message, error)
	// ListByConversation returns every message across the conversation's
	// threads, same ordering as ListByThread.
	ListByConversation(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.Message, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Message, error)
	ListByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Message, error)
	GetByJobIDAndRole(ctx context.Context, tx *gorm.DB, jobID, role string) (*types.Message, error)
	ExistsByThreadJobRole(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, jobID, role string) (bool, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (mr *messageRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Message) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	if len(rows) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (mr *messageRepo) GetMaxSeq(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing agent_thread_id")
	}
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var maxSeq int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("agent_thread_id = ?", threadID).
		Scan(&maxSeq).Error; err != nil {
		return 0, err
	}
	return maxSeq, nil
}

func (mr *messageRepo) ListByThread(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) ([]*types.Message, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing agent_thread_id")
	}
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var out []*types.Message
	if err := transaction.WithContext(ctx).
		Where("agent_thread_id = ?", threadID).
		Order("timestamp ASC").
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (mr *messageRepo) ListByConversation(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var out []*types.Message
	if err := transaction.WithContext(ctx).
		Joins("JOIN agent_thread ON agent_thread.id = message.agent_thread_id").
		Where("agent_thread.conversation_id = ?", conversationID).
		Order("message.timestamp ASC").
		Order("message.seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (mr *messageRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var results []*types.Message
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

func (mr *messageRepo) ListByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var results []*types.Message
	if jobID == "" {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("timestamp ASC").
		Order("seq ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (mr *messageRepo) GetByJobIDAndRole(ctx context.Context, tx *gorm.DB, jobID, role string) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var row types.Message
	err := transaction.WithContext(ctx).
		Where("job_id = ? AND role = ?", jobID, role).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (mr *messageRepo) ExistsByThreadJobRole(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, jobID, role string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("agent_thread_id = ? AND job_id = ? AND role = ?", threadID, jobID, role).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
