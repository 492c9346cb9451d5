package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lox/planti/internal/models"
	"github.com/lox/planti/internal/store"
)

// MagicLinkTTL is how long an emailed login link stays valid.
const MagicLinkTTL = 10 * time.Minute

type UserStore interface {
	FindOrCreateUser(ctx context.Context, email string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	CreateAuthToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	ConsumeAuthToken(ctx context.Context, token string) (int64, error)
}

type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// Service issues magic links and exchanges them for session tokens.
type Service struct {
	users       UserStore
	mailer      Mailer
	secret      []byte
	frontendURL string
	now         func() time.Time
}

func NewService(users UserStore, mailer Mailer, secret []byte, frontendURL string) *Service {
	return &Service{
		users:       users,
		mailer:      mailer,
		secret:      secret,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		now:         time.Now,
	}
}

// RequestMagicLink creates the user if needed, stores a fresh single-use
// token and mails the login link.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	user, err := s.users.FindOrCreateUser(ctx, email)
	if err != nil {
		return fmt.Errorf("find or create user: %w", err)
	}

	token := uuid.NewString()
	if err := s.users.CreateAuthToken(ctx, user.ID, token, s.now().Add(MagicLinkTTL)); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}

	if err := s.mailer.SendMagicLink(ctx, user.Email, s.link(token)); err != nil {
		return err
	}
	log.Printf("auth: magic link issued for user %d", user.ID)
	return nil
}

func (s *Service) link(token string) string {
	return s.frontendURL + "/auth/verify?token=" + url.QueryEscape(token)
}

// Verify consumes a magic link token and returns a session JWT for its user.
func (s *Service) Verify(ctx context.Context, token string) (string, models.User, error) {
	userID, err := s.users.ConsumeAuthToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", models.User{}, ErrInvalidToken
	}
	if err != nil {
		return "", models.User{}, fmt.Errorf("consume magic link: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", models.User{}, ErrInvalidToken
	}
	if err != nil {
		return "", models.User{}, fmt.Errorf("load user: %w", err)
	}

	session, err := GenerateToken(user.ID, s.secret, SessionTTL)
	if err != nil {
		return "", models.User{}, err
	}
	return session, user, nil
}

// Authenticate returns the user id carried by a session token.
func (s *Service) Authenticate(token string) (int64, error) {
	return UserIDFromToken(token, s.secret)
}
