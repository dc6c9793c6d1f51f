package messages

import (
	"context"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, conversationID, authorID string, p models.Payload) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
	MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error)
}
