package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования паролей
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordTooLong  = errors.New("password exceeds 72 bytes")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid bcrypt hash")
)

// DefaultCost - cost для хешей, которые печатает `ocobot hash-password`
const DefaultCost = 12

// MaxPasswordLength - bcrypt учитывает только первые 72 байта
const MaxPasswordLength = 72

// HashPassword хеширует пароль с DefaultCost
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultCost)
}

// HashPasswordWithCost хеширует пароль с заданным cost, выходящий за
// пределы bcrypt cost прижимается к ближайшей границе
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// ValidateHash проверяет формат хеша из конфигурации и возвращает его cost.
// Вызывается при загрузке конфига, чтобы битый DEBUG_PASSWORD_HASH
// обнаружился при старте, а не на первом запросе /metrics.
func ValidateHash(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return cost, nil
}

// VerifyPassword сравнивает пароль с хешем (сравнение за постоянное время)
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return ErrInvalidHash
	}
}

// CheckPasswordMatch - VerifyPassword для условий
func CheckPasswordMatch(password, hash string) bool {
	return VerifyPassword(password, hash) == nil
}
