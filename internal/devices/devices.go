// Package devices stores the push tokens of registered devices.
//
// Two backends implement Registry: PostgresRegistry (pgx) and MongoRegistry.
// Register validates input at the registry boundary so malformed tokens are
// rejected with a user-visible error instead of being stored.
package devices

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source=devices.go -destination=devicesmock/registry.go -package=devicesmock

// Validation errors returned by Register.
var (
	ErrInvalidToken = errors.New("invalid push token")
	ErrMissingEmail = errors.New("email is required")
)

// ErrDuplicateToken is returned by Registry.Create when the token is
// already stored.
var ErrDuplicateToken = errors.New("token already registered")

// Registration is a device push token bound to a user email.
type Registration struct {
	Token     string
	Email     string
	CreatedAt time.Time
}

// Registry persists registrations.
type Registry interface {
	FindAll(ctx context.Context) ([]Registration, error)
	Exists(ctx context.Context, token string) (bool, error)
	Create(ctx context.Context, reg Registration) error
	Ping(ctx context.Context) error
}

var uuidTokenRe = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	if (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]") {
		return true
	}
	return uuidTokenRe.MatchString(token)
}

// Register stores a new registration. created is false when the token was
// already registered.
func Register(ctx context.Context, reg Registry, token, email string) (created bool, err error) {
	if token == "" || !ValidToken(token) {
		return false, ErrInvalidToken
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return false, ErrMissingEmail
	}

	exists, err := reg.Exists(ctx, token)
	if err != nil {
		return false, errors.Wrap(err, "lookup token")
	}
	if exists {
		return false, nil
	}

	err = reg.Create(ctx, Registration{Token: token, Email: email, CreatedAt: time.Now().UTC()})
	switch {
	case errors.Is(err, ErrDuplicateToken):
		// Lost a race with a concurrent registration of the same token.
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "create registration")
	}
	return true, nil
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrMissingEmail)
}
