package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/conversant/backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email, username string) *types.User {
	tb.Helper()
	hash := "$2a$10$abcdefghijklmnopqrstuv"
	u := &types.User{
		Email:        email,
		Username:     username,
		PasswordHash: &hash,
		Verified:     true,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uint, title string) *types.Conversation {
	tb.Helper()
	now := time.Now().UTC()
	c := &types.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

func SeedThread(tb testing.TB, ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, agentType string) *types.AgentThread {
	tb.Helper()
	now := time.Now().UTC()
	th := &types.AgentThread{
		ID:             uuid.New(),
		ConversationID: conversationID,
		AgentType:      agentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(th).Error; err != nil {
		tb.Fatalf("seed thread: %v", err)
	}
	return th
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, threadID uuid.UUID, seq int64, role, content string) *types.Message {
	tb.Helper()
	m := &types.Message{
		ID:            uuid.New(),
		AgentThreadID: threadID,
		Seq:           seq,
		Role:          role,
		Content:       content,
		Timestamp:     time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}
