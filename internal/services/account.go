package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/usermgmt/apiserver/internal/apperr"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/metrics"
	"github.com/usermgmt/apiserver/internal/store"
	"github.com/usermgmt/apiserver/types"
)

const (
	msgEmailInUse       = "Email is already in use"
	msgWrongPassword    = "Current password is incorrect"
	msgSamePassword     = "New password must be different from current password"
	msgSelfStatusChange = "You cannot change your own status"
	msgUserActivated    = "User activated successfully"
	msgUserDeactivated  = "User deactivated successfully"
	fieldNewPassword    = "newPassword"
)

// ProfileUpdate holds the optional self-service profile fields. Nil means
// unchanged.
type ProfileUpdate struct {
	FullName *string
	Email    *string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// NewPagination computes page metadata for total items.
func NewPagination(total, page, limit int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Total:       total,
		Page:        page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// pageOffset is the row offset of page, saturating at math.MaxInt instead of
// overflowing for very large pages.
func pageOffset(page, limit int) int {
	if page <= 1 || limit <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// UserPage is a page of users.
type UserPage struct {
	Users      []types.User
	Pagination Pagination
}

// StatusChange is the result of toggling a user's status.
type StatusChange struct {
	User    types.User
	Message string
}

// AccountService implements self-service and administrative account operations.
type AccountService struct {
	users  UserRepository
	hasher PasswordHasher
	events events.Publisher
}

func NewAccountService(users UserRepository, hasher PasswordHasher, publisher events.Publisher) *AccountService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &AccountService{users: users, hasher: hasher, events: publisher}
}

// UpdateProfile applies the supplied fields. Role, status and password never
// pass through here.
func (s *AccountService) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (types.User, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	fullName := current.FullName
	if in.FullName != nil {
		fullName = strings.TrimSpace(*in.FullName)
	}
	email := current.Email
	if in.Email != nil {
		email = types.NormalizeEmail(*in.Email)
	}

	if email != current.Email {
		existing, err := s.users.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != id:
			return types.User{}, apperr.Conflict(msgEmailInUse)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return types.User{}, fmt.Errorf("check email: %w", err)
		}
	}

	updated, err := s.users.UpdateProfile(ctx, id, fullName, email)
	if err != nil {
		switch {
		case store.IsDuplicateKey(err):
			return types.User{}, apperr.Conflict(msgEmailInUse)
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, apperr.NotFound(msgUserNotFound)
		}
		return types.User{}, fmt.Errorf("update profile: %w", err)
	}

	publish(ctx, s.events, events.NewAccountEvent(events.UserProfileUpdated, updated))
	return updated, nil
}

// ChangePassword replaces the password after re-verifying the current one.
// Issued tokens stay valid.
func (s *AccountService) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		metrics.RecordAuthAttempt(metrics.ActionPasswordChange, metrics.OutcomeRejected)
		return apperr.Unauthenticated(msgWrongPassword)
	}
	if oldPassword == newPassword {
		metrics.RecordAuthAttempt(metrics.ActionPasswordChange, metrics.OutcomeRejected)
		return apperr.Validation("Validation failed", apperr.FieldError{Field: fieldNewPassword, Message: msgSamePassword})
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		metrics.RecordAuthAttempt(metrics.ActionPasswordChange, metrics.OutcomeError)
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id, hashed); err != nil {
		metrics.RecordAuthAttempt(metrics.ActionPasswordChange, metrics.OutcomeError)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return fmt.Errorf("update password: %w", err)
	}

	metrics.RecordAuthAttempt(metrics.ActionPasswordChange, metrics.OutcomeSuccess)
	publish(ctx, s.events, events.NewAccountEvent(events.UserPasswordChanged, user))
	return nil
}

// ListUsers returns users newest first.
func (s *AccountService) ListUsers(ctx context.Context, page, limit int) (UserPage, error) {
	users, total, err := s.users.List(ctx, pageOffset(page, limit), limit)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	return UserPage{Users: users, Pagination: NewPagination(total, page, limit)}, nil
}

// ToggleStatus flips a user between active and inactive. An admin cannot
// toggle their own account.
func (s *AccountService) ToggleStatus(ctx context.Context, actorID, targetID uuid.UUID) (StatusChange, error) {
	target, err := s.load(ctx, targetID)
	if err != nil {
		return StatusChange{}, err
	}
	if target.ID == actorID {
		return StatusChange{}, apperr.BadRequest(msgSelfStatusChange)
	}

	updated, err := s.users.UpdateStatus(ctx, target.ID, target.Status.Toggled())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StatusChange{}, apperr.NotFound(msgUserNotFound)
		}
		return StatusChange{}, fmt.Errorf("update status: %w", err)
	}

	event := events.NewAccountEvent(events.UserStatusChanged, updated)
	event.Status = updated.Status
	event.ActorID = &actorID
	publish(ctx, s.events, event)

	message := msgUserActivated
	if updated.Status == types.StatusInactive {
		message = msgUserDeactivated
	}
	return StatusChange{User: updated, Message: message}, nil
}

func (s *AccountService) load(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.NotFound(msgUserNotFound)
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
