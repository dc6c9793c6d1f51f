package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/google/uuid"
)

// UserFinder loads a user profile by id.
type UserFinder interface {
	UserDetails(ctx context.Context, userID string) (*models.User, error)
}

// Verifier turns a bearer token into the user it was issued for.
type Verifier struct {
	secretKey []byte
	users     UserFinder
}

func NewVerifier(secretKey []byte, users UserFinder) *Verifier {
	return &Verifier{secretKey: secretKey, users: users}
}

// Verify returns the user the token belongs to. Every failure, including a
// token for an account that no longer exists, is reported as
// common.ErrorUnauthorized so callers can treat them alike.
func (v *Verifier) Verify(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", common.ErrorUnauthorized)
	}

	userID, err := GetUserIDFromToken(token, v.secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, common.ErrInvalidUserID)
	}

	user, err := v.users.UserDetails(ctx, id.String())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, common.ErrUserNotFound)
		}
		return nil, err
	}

	return user, nil
}

// TokenFromHeader extracts the token from an "Authorization: Bearer ..." value.
// A bare token without the prefix is accepted as well.
func TokenFromHeader(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len(common.BearerPrefix) && strings.EqualFold(value[:len(common.BearerPrefix)], common.BearerPrefix) {
		return strings.TrimSpace(value[len(common.BearerPrefix):])
	}
	return value
}
