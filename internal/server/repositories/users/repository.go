package users

import (
	"context"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

// Repository reads accounts owned by the account subsystem.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
