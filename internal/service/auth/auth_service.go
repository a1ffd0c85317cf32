package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/utils"
)

type Subjects interface {
	Subject(ctx context.Context, userID int64) (domain.Subject, error)
}

type Service struct {
	subjects Subjects
	key      string
}

func NewService(subjects Subjects, key string) *Service {
	return &Service{subjects: subjects, key: key}
}

// Authenticate resolves the auth cookie value to a subject. An empty or invalid token
// is an anonymous visitor, not an error; only lookup failures are returned.
func (svc *Service) Authenticate(ctx context.Context, rawToken string) (domain.Subject, error) {
	if rawToken == "" {
		return domain.Subject{}, nil
	}
	token, err := utils.ParseAuthTokenWithKey(rawToken, svc.key)
	if err != nil || token.UserID == 0 {
		return domain.Subject{}, nil
	}

	subject, err := svc.subjects.Subject(ctx, token.UserID)
	if errors.Is(err, constants.ErrUnauthorized) {
		return domain.Subject{}, nil
	}
	return subject, err
}

// IssueToken signs an auth cookie value for userID.
func (svc *Service) IssueToken(userID int64, now time.Time) (string, error) {
	return utils.GenerateAuthTokenWithKey(&utils.AuthTokenWrapper{UserID: userID}, svc.key, now)
}
