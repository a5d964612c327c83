package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/usermgmt/apiserver/internal/apperr"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/metrics"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/internal/store"
	"github.com/usermgmt/apiserver/types"
)

const (
	msgEmailRegistered    = "User with this email already exists"
	msgInvalidCredentials = "Invalid email or password"
	msgAccountInactive    = "Account is inactive. Please contact an administrator."
	msgUserNotFound       = "User not found"
)

// SignupInput holds already validated signup fields.
type SignupInput struct {
	FullName string
	Email    string
	Password string
}

// Session is the result of a successful signup or login.
type Session struct {
	Token string
	User  types.User
}

// AuthService implements signup, login and session introspection.
type AuthService struct {
	users  UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	events events.Publisher
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(users UserRepository, hasher PasswordHasher, tokens TokenIssuer, publisher events.Publisher) *AuthService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		events: publisher,
		now:    time.Now,
	}
}

// Signup creates a user with the default role and status and opens a session.
// The existence check only produces an early Conflict; the repository's
// unique index decides races.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (Session, error) {
	email := types.NormalizeEmail(in.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeRejected)
		return Session{}, apperr.Conflict(msgEmailRegistered)
	} else if !errors.Is(err, store.ErrNotFound) {
		metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeError)
		return Session{}, fmt.Errorf("check email: %w", err)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeError)
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		FullName:     strings.TrimSpace(in.FullName),
		Email:        email,
		PasswordHash: hashed,
		Role:         types.RoleUser,
		Status:       types.StatusActive,
	})
	if err != nil {
		if store.IsDuplicateKey(err) {
			metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeRejected)
			return Session{}, apperr.Conflict(msgEmailRegistered)
		}
		metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeError)
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issue(user)
	if err != nil {
		metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeError)
		return Session{}, err
	}

	metrics.RecordAuthAttempt(metrics.ActionSignup, metrics.OutcomeSuccess)
	publish(ctx, s.events, events.NewAccountEvent(events.UserRegistered, user))
	return Session{Token: token, User: user}, nil
}

// Login verifies credentials. Unknown email and wrong password fail with the
// same message.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison so unknown emails take as long as wrong passwords.
			s.hasher.Verify(password, s.unknownUserHash())
			metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeRejected)
			return Session{}, apperr.Unauthenticated(msgInvalidCredentials)
		}
		metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeError)
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeRejected)
		return Session{}, apperr.Unauthenticated(msgInvalidCredentials)
	}

	if !user.IsActive() {
		metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeRejected)
		return Session{}, apperr.Forbidden(msgAccountInactive)
	}

	user, err = s.users.TouchLastLogin(ctx, user.ID, s.now().UTC())
	if err != nil {
		metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeError)
		return Session{}, fmt.Errorf("update last login: %w", err)
	}

	token, err := s.issue(user)
	if err != nil {
		metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeError)
		return Session{}, err
	}

	metrics.RecordAuthAttempt(metrics.ActionLogin, metrics.OutcomeSuccess)
	publish(ctx, s.events, events.NewAccountEvent(events.UserLoggedIn, user))
	return Session{Token: token, User: user}, nil
}

// Me re-reads the user behind a verified token.
func (s *AuthService) Me(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.NotFound(msgUserNotFound)
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Promote grants the admin role to the user with email.
func (s *AuthService) Promote(ctx context.Context, email string) (types.User, error) {
	user, err := s.users.GetByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.NotFound(msgUserNotFound)
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.Role == types.RoleAdmin {
		return user, nil
	}
	return s.users.UpdateRole(ctx, user.ID, types.RoleAdmin)
}

func (s *AuthService) unknownUserHash() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash("unknown-user-placeholder")
		if err == nil {
			s.dummyHash = hashed
		}
	})
	return s.dummyHash
}

func (s *AuthService) issue(user types.User) (string, error) {
	token, err := s.tokens.Issue(security.Identity{UserID: user.ID, Role: user.Role})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
