package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ychat20/ychat-server/internal/store"
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
	// ErrInvalidEmail is returned for a malformed email address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrEmailExists is returned when the email is already registered.
	ErrEmailExists = errors.New("email already registered")
	// ErrMissingToken is returned when no credential was presented.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned for malformed or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrUnknownUser is returned when a valid token names a user that no longer exists.
	ErrUnknownUser = errors.New("user no longer exists")
)

const (
	minUsernameLength = 3
	maxUsernameLength = 30
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	hasher    *PasswordHasher
	validate  *validator.Validate
}

// NewService creates a new authentication service. A nil hasher uses the
// default bcrypt cost.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, hasher *PasswordHasher) *Service {
	if hasher == nil {
		hasher = NewPasswordHasher(0)
	}
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		hasher:    hasher,
		validate:  validator.New(),
	}
}

// Register creates a new user with hashed password and returns a JWT token.
// Email is optional; when given it is normalized to lower case and must be
// unique.
func (s *Service) Register(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	if n := len(username); n < minUsernameLength || n > maxUsernameLength || !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	var emailPtr *string
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			return "", ErrInvalidEmail
		}
		emailPtr = &email
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if emailPtr != nil {
		_, err := s.store.GetUserByEmail(ctx, email)
		if err == nil {
			return "", ErrEmailExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("lookup email: %w", err)
		}
	}

	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	user, err := s.store.CreateUser(ctx, username, emailPtr, hashedPassword)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := s.hasher.Compare(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Verify resolves a bearer credential to the ID of an existing user.
// A leading "Bearer " prefix is accepted.
func (s *Service) Verify(ctx context.Context, token string) (int64, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return 0, ErrMissingToken
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		return 0, err
	}

	if _, err := s.store.GetUserByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownUser
		}
		return 0, fmt.Errorf("lookup user: %w", err)
	}

	return claims.UserID, nil
}

// IsCredentialError reports whether err from Verify means the credential was
// rejected, as opposed to the check itself failing.
func (s *Service) IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrUnknownUser)
}
