package app

import (
	"gorm.io/gorm"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	userrepo "github.com/conversant/backend/internal/data/repos/user"
	"github.com/conversant/backend/internal/platform/logger"
)

type Repos struct {
	User         userrepo.UserRepo
	Conversation convrepo.ConversationRepo
	AgentThread  convrepo.AgentThreadRepo
	Message      convrepo.MessageRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:         userrepo.NewUserRepo(db, log),
		Conversation: convrepo.NewConversationRepo(db, log),
		AgentThread:  convrepo.NewAgentThreadRepo(db, log),
		Message:      convrepo.NewMessageRepo(db, log),
	}
}
