package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/data/repos/user"
	"github.com/conversant/backend/internal/platform/logger"
)

type AgentThreadRepo interface {
	GetByConversationAndType(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, agentType string) (*types.AgentThread, error)
	// GetOrCreate lazily creates the thread for (conversation, agent type).
	// Concurrent creates race on the unique index; the loser re-reads.
	GetOrCreate(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, agentType string) (*types.AgentThread, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.AgentThread, error)
	Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type agentThreadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentThreadRepo(db *gorm.DB, baseLog *logger.Logger) AgentThreadRepo {
	return &agentThreadRepo{db: db, log: baseLog.With("repo", "AgentThreadRepo")}
}

func (tr *agentThreadRepo) GetByConversationAndType(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, agentType string) (*types.AgentThread, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	var row types.AgentThread
	err := transaction.WithContext(ctx).
		Where("conversation_id = ? AND agent_type = ?", conversationID, agentType).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (tr *agentThreadRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, agentType string) (*types.AgentThread, error) {
	found, err := tr.GetByConversationAndType(ctx, tx, conversationID, agentType)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	now := time.Now().UTC()
	row := &types.AgentThread{
		ID:             uuid.New(),
		ConversationID: conversationID,
		AgentType:      agentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cErr := transaction.WithContext(ctx).Create(row).Error; cErr != nil {
		if user.IsUniqueViolation(cErr) {
			return tr.GetByConversationAndType(ctx, tx, conversationID, agentType)
		}
		return nil, cErr
	}
	return row, nil
}

func (tr *agentThreadRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.AgentThread, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	var results []*types.AgentThread
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

func (tr *agentThreadRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.AgentThread{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}
