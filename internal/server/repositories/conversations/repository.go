package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

type Repository interface {
	FindByPair(ctx context.Context, a, b string) (*models.Conversation, error)
	Create(ctx context.Context, a, b string) (*models.Conversation, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	LockForAppend(ctx context.Context, id string) (*models.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
}
