package auth

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// PasswordHasher hashes and checks passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher for cost. Zero selects bcrypt.DefaultCost;
// other values are clamped to the range bcrypt accepts.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash generates a bcrypt hash of the password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare checks password against a bcrypt hash.
func (h *PasswordHasher) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword requires MinPasswordLength characters with at least one
// lowercase letter, one uppercase letter and one digit.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", ErrInvalidPassword, MinPasswordLength)
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !lower:
		return fmt.Errorf("%w: a lowercase letter is required", ErrInvalidPassword)
	case !upper:
		return fmt.Errorf("%w: an uppercase letter is required", ErrInvalidPassword)
	case !digit:
		return fmt.Errorf("%w: a digit is required", ErrInvalidPassword)
	}
	return nil
}
