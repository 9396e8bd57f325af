package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidToken is returned when a token does not validate.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRequired is returned by VerifyAnnouncement when a token is mandatory but absent.
	ErrTokenRequired = errors.New("token required")
	// ErrIdentityMismatch is returned when an announced user differs from the token's user.
	ErrIdentityMismatch = errors.New("announced user does not match token")
)

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns it with a JWT token.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, string, error) {
	username, err := normalizeCredentials(username, password)
	if err != nil {
		return nil, "", err
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return nil, "", ErrUserExists
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.store.CreateUser(ctx, username, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", ErrUserExists
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := IssueToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login validates credentials and returns the user with a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := checkPassword(user.PasswordHash, password); err != nil {
		return nil, "", err
	}

	token, err := IssueToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// CurrentUser loads the user a token was issued to.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ParseToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyAnnouncement decides whether a connection may claim userID.
// With required set a valid token naming userID is mandatory. Otherwise an
// announcement without a token is accepted as-is, but a supplied token must
// still be valid and name the same user. Claims is nil when no token was used.
func (s *Service) VerifyAnnouncement(token, userID string, required bool) (*Claims, error) {
	if token == "" {
		if required {
			return nil, ErrTokenRequired
		}
		return nil, nil
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if userID != "" && claims.UserID != userID {
		return nil, ErrIdentityMismatch
	}
	return claims, nil
}
