package domain

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;column:user_id" json:"user_id"`
	Title     string    `gorm:"not null;column:title" json:"title"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }

// AgentThread partitions a conversation by agent type. The unique index makes
// thread creation race-safe: concurrent lazy creates collapse to one row.
type AgentThread struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_agent_thread_conv_type,unique,priority:1" json:"conversation_id"`
	AgentType      string    `gorm:"not null;index:idx_agent_thread_conv_type,unique,priority:2;column:agent_type" json:"agent_type"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AgentThread) TableName() string { return "agent_thread" }

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in an agent thread. Seq is assigned per thread inside
// the append transaction and breaks timestamp ties on read-back; JobID links a
// user prompt to the assistant reply produced for it.
type Message struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AgentThreadID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_thread_seq,unique,priority:1" json:"agent_thread_id"`
	Seq           int64     `gorm:"column:seq;not null;index:idx_message_thread_seq,unique,priority:2" json:"seq"`
	Role          string    `gorm:"not null;column:role" json:"role"`
	Content       string    `gorm:"not null;column:content" json:"content"`
	JobID         *string   `gorm:"index;column:job_id" json:"job_id,omitempty"`
	Timestamp     time.Time `gorm:"not null;column:timestamp" json:"timestamp"`
}

func (Message) TableName() string { return "message" }
