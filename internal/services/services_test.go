package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermgmt/apiserver/internal/apperr"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/internal/store"
	"github.com/usermgmt/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const password = "Abcdef1!"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AccountEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.AccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingHasher struct {
	PasswordHasher
	mu       sync.Mutex
	verified int
}

func (h *countingHasher) Verify(plaintext, hashed string) bool {
	h.mu.Lock()
	h.verified++
	h.mu.Unlock()
	return h.PasswordHasher.Verify(plaintext, hashed)
}

func TestLoginUnknownEmailComparesHash(t *testing.T) {
	hasher := &countingHasher{PasswordHasher: security.NewBcryptHasher(bcrypt.MinCost)}
	auth := NewAuthService(store.NewMemoryUserRepository(), hasher, security.NewTokenService("test-secret", 0), nil)

	for range 2 {
		_, err := auth.Login(context.Background(), "nobody@x.com", password)
		requireKind(t, err, apperr.KindUnauthenticated)
	}
	assert.Equal(t, 2, hasher.verified)
	assert.NotEmpty(t, auth.unknownUserHash())
}

type fixture struct {
	repo      *store.MemoryUserRepository
	tokens    *security.TokenService
	publisher *recordingPublisher
	auth      *AuthService
	accounts  *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemoryUserRepository()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	tokens := security.NewTokenService("test-secret", 0)
	publisher := &recordingPublisher{}

	return &fixture{
		repo:      repo,
		tokens:    tokens,
		publisher: publisher,
		auth:      NewAuthService(repo, hasher, tokens, publisher),
		accounts:  NewAccountService(repo, hasher, publisher),
	}
}

func (f *fixture) signup(t *testing.T, email string) Session {
	t.Helper()
	session, err := f.auth.Signup(context.Background(), SignupInput{FullName: "Jane Doe", Email: email, Password: password})
	require.NoError(t, err)
	return session
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %v", err)
	require.Equal(t, kind, appErr.Kind, appErr.Message)
	return appErr
}

func TestSignupCreatesDefaultUser(t *testing.T) {
	f := newFixture(t)

	session := f.signup(t, " JANE@X.COM ")

	assert.Equal(t, "jane@x.com", session.User.Email)
	assert.Equal(t, types.RoleUser, session.User.Role)
	assert.Equal(t, types.StatusActive, session.User.Status)
	assert.NotEqual(t, password, session.User.PasswordHash)

	identity, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, identity.UserID)
	assert.Equal(t, types.RoleUser, identity.Role)
	assert.Equal(t, []events.Type{events.UserRegistered}, f.publisher.eventTypes())
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "jane@x.com")

	_, err := f.auth.Signup(context.Background(), SignupInput{FullName: "Other", Email: "Jane@X.com", Password: password})
	appErr := requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, "User with this email already exists", appErr.Message)
}

func TestSignupConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Signup(context.Background(), SignupInput{FullName: "Jane", Email: "race@x.com", Password: password})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperr.IsKind(err, apperr.KindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)
}

func TestSignupPublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.auth.Signup(context.Background(), SignupInput{FullName: "Jane", Email: "jane@x.com", Password: password})
	require.NoError(t, err)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	created := f.signup(t, "jane@x.com")
	require.Nil(t, created.User.LastLogin)

	session, err := f.auth.Login(context.Background(), "JANE@x.com", password)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	require.NotNil(t, session.User.LastLogin)

	stored, err := f.repo.GetByID(context.Background(), created.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)
}

func TestLoginGenericFailure(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "jane@x.com")

	_, wrongPassword := f.auth.Login(context.Background(), "jane@x.com", "Wrong1!aa")
	_, unknownEmail := f.auth.Login(context.Background(), "nobody@x.com", password)

	a := requireKind(t, wrongPassword, apperr.KindUnauthenticated)
	b := requireKind(t, unknownEmail, apperr.KindUnauthenticated)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, "Invalid email or password", a.Message)
}

func TestLoginInactive(t *testing.T) {
	f := newFixture(t)
	session := f.signup(t, "jane@x.com")
	_, err := f.repo.UpdateStatus(context.Background(), session.User.ID, types.StatusInactive)
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), "jane@x.com", password)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.auth.Login(context.Background(), "jane@x.com", "Wrong1!aa")
	requireKind(t, err, apperr.KindUnauthenticated)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	session := f.signup(t, "jane@x.com")

	user, err := f.auth.Me(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", user.Email)

	_, err = f.auth.Me(context.Background(), uuid.New())
	appErr := requireKind(t, err, apperr.KindNotFound)
	assert.Equal(t, "User not found", appErr.Message)
}

func TestPromote(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "jane@x.com")

	user, err := f.auth.Promote(context.Background(), "JANE@x.com")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, user.Role)

	user, err = f.auth.Promote(context.Background(), "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, user.Role)

	_, err = f.auth.Promote(context.Background(), "nobody@x.com")
	requireKind(t, err, apperr.KindNotFound)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	jane := f.signup(t, "jane@x.com")
	f.signup(t, "john@x.com")

	name := "Jane Smith"
	updated, err := f.accounts.UpdateProfile(context.Background(), jane.User.ID, ProfileUpdate{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", updated.FullName)
	assert.Equal(t, "jane@x.com", updated.Email)

	taken := "JOHN@x.com"
	_, err = f.accounts.UpdateProfile(context.Background(), jane.User.ID, ProfileUpdate{Email: &taken})
	appErr := requireKind(t, err, apperr.KindConflict)
	assert.Contains(t, appErr.Message, "already in use")

	same := "jane@x.com"
	_, err = f.accounts.UpdateProfile(context.Background(), jane.User.ID, ProfileUpdate{Email: &same})
	require.NoError(t, err)

	fresh := "jane.smith@x.com"
	updated, err = f.accounts.UpdateProfile(context.Background(), jane.User.ID, ProfileUpdate{Email: &fresh})
	require.NoError(t, err)
	assert.Equal(t, "jane.smith@x.com", updated.Email)
	assert.Equal(t, types.RoleUser, updated.Role)
	assert.Equal(t, types.StatusActive, updated.Status)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	session := f.signup(t, "jane@x.com")
	ctx := context.Background()

	err := f.accounts.ChangePassword(ctx, session.User.ID, "Wrong1!aa", "Newpass1!")
	appErr := requireKind(t, err, apperr.KindUnauthenticated)
	assert.Contains(t, appErr.Message, "incorrect")

	err = f.accounts.ChangePassword(ctx, session.User.ID, password, password)
	requireKind(t, err, apperr.KindValidation)

	require.NoError(t, f.accounts.ChangePassword(ctx, session.User.ID, password, "Newpass1!"))

	_, err = f.auth.Login(ctx, "jane@x.com", password)
	requireKind(t, err, apperr.KindUnauthenticated)
	_, err = f.auth.Login(ctx, "jane@x.com", "Newpass1!")
	require.NoError(t, err)

	_, err = f.tokens.Verify(session.Token)
	assert.NoError(t, err, "existing tokens survive a password change")
}

func TestListUsersPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 15; i++ {
		f.signup(t, fmt.Sprintf("user%02d@x.com", i))
	}

	page, err := f.accounts.ListUsers(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, page.Users, 5)
	assert.Equal(t, Pagination{Total: 15, Page: 2, Limit: 5, TotalPages: 3, HasNextPage: true, HasPrevPage: true}, page.Pagination)
	assert.Equal(t, "user09@x.com", page.Users[0].Email)

	last, err := f.accounts.ListUsers(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.False(t, last.Pagination.HasNextPage)
}

func TestListUsersHugePage(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "only@x.com")

	page, err := f.accounts.ListUsers(context.Background(), math.MaxInt/100+1, 100)
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNextPage)
	assert.True(t, page.Pagination.HasPrevPage)
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, pageOffset(1, 10))
	assert.Equal(t, 20, pageOffset(3, 10))
	assert.Equal(t, 0, pageOffset(0, 10))
	assert.Equal(t, math.MaxInt, pageOffset(math.MaxInt, 100))
}

func TestNewPaginationEmpty(t *testing.T) {
	p := NewPagination(0, 1, 10)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNextPage)
	assert.False(t, p.HasPrevPage)
}

func TestToggleStatus(t *testing.T) {
	f := newFixture(t)
	admin := f.signup(t, "admin@x.com")
	target := f.signup(t, "jane@x.com")
	ctx := context.Background()

	change, err := f.accounts.ToggleStatus(ctx, admin.User.ID, target.User.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInactive, change.User.Status)
	assert.Contains(t, change.Message, "deactivated")

	change, err = f.accounts.ToggleStatus(ctx, admin.User.ID, target.User.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, change.User.Status)
	assert.Contains(t, change.Message, "activated")

	_, err = f.accounts.ToggleStatus(ctx, admin.User.ID, uuid.New())
	requireKind(t, err, apperr.KindNotFound)

	assert.Contains(t, f.publisher.eventTypes(), events.UserStatusChanged)
}

func TestToggleStatusSelfLock(t *testing.T) {
	f := newFixture(t)
	admin := f.signup(t, "admin@x.com")

	_, err := f.accounts.ToggleStatus(context.Background(), admin.User.ID, admin.User.ID)
	appErr := requireKind(t, err, apperr.KindBadRequest)
	assert.Contains(t, appErr.Message, "cannot change your own")

	stored, err := f.repo.GetByID(context.Background(), admin.User.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, stored.Status)
}
