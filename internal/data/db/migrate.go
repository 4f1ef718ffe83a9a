package db

import (
	"gorm.io/gorm"

	types "github.com/conversant/backend/internal/domain"
)

func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.User{},
		&types.Conversation{},
		&types.AgentThread{},
		&types.Message{},
	)
}
