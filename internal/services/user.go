package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email string) (types.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status types.Status) (types.User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role types.Role) (types.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

// TokenIssuer issues session tokens.
type TokenIssuer interface {
	Issue(identity security.Identity) (string, error)
}

// publish sends an event and logs failures. Event delivery never fails the
// operation that produced it.
func publish(ctx context.Context, publisher events.Publisher, event events.AccountEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "account event not published", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}
