package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// UserService reads user profiles for the realtime engine and the HTTP
// user-details endpoint.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager) *UserService {
	return &UserService{db: db, repomanager: m}
}

// UserDetails returns the profile for userID. Unknown users yield
// common.ErrUserNotFound, malformed ids common.ErrInvalidUserID.
func (s *UserService) UserDetails(ctx context.Context, userID string) (*models.User, error) {
	id, err := canonicalID(userID)
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return user, nil
}

// canonicalID validates a user or conversation id and returns its canonical
// lowercase form so that equal ids compare equal as strings.
func canonicalID(s string) (string, error) {
	if s == "" {
		return "", common.ErrInvalidUserID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", common.ErrInvalidUserID
	}
	return id.String(), nil
}
