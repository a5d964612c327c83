package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/usermgmt/apiserver/types"
)

// MemoryUserRepository is an in-process user store. The email index is
// checked and written under one lock, so uniqueness holds under concurrency.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*memoryRecord
	byEmail map[string]uuid.UUID
	seq     int64
	now     func() time.Time
}

type memoryRecord struct {
	user types.User
	seq  int64
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   make(map[uuid.UUID]*memoryRecord),
		byEmail: make(map[string]uuid.UUID),
		now:     time.Now,
	}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return clone(rec.user), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[types.NormalizeEmail(email)]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return clone(r.users[id].user), nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user = prepareNew(user, r.now())
	if _, taken := r.byEmail[user.Email]; taken {
		return types.User{}, &DuplicateKeyError{Field: "email"}
	}
	if _, taken := r.users[user.ID]; taken {
		return types.User{}, &DuplicateKeyError{Field: "id"}
	}

	r.seq++
	r.users[user.ID] = &memoryRecord{user: user, seq: r.seq}
	r.byEmail[user.Email] = user.ID
	return clone(user), nil
}

func (r *MemoryUserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}

	email = types.NormalizeEmail(email)
	if email != rec.user.Email {
		if _, taken := r.byEmail[email]; taken {
			return types.User{}, &DuplicateKeyError{Field: "email"}
		}
		delete(r.byEmail, rec.user.Email)
		r.byEmail[email] = id
	}

	rec.user.FullName = strings.TrimSpace(fullName)
	rec.user.Email = email
	rec.user.UpdatedAt = r.now()
	return clone(rec.user), nil
}

func (r *MemoryUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := r.mutate(id, func(u *types.User) {
		u.PasswordHash = passwordHash
	})
	return err
}

func (r *MemoryUserRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status types.Status) (types.User, error) {
	return r.mutate(id, func(u *types.User) {
		u.Status = status
	})
}

func (r *MemoryUserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role types.Role) (types.User, error) {
	return r.mutate(id, func(u *types.User) {
		u.Role = role
	})
}

func (r *MemoryUserRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (types.User, error) {
	return r.mutate(id, func(u *types.User) {
		u.LastLogin = &at
	})
}

func (r *MemoryUserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*memoryRecord, 0, len(r.users))
	for _, rec := range r.users {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.user.CreatedAt.Equal(b.user.CreatedAt) {
			return a.user.CreatedAt.After(b.user.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := len(records)
	users := []types.User{}
	if offset < 0 || offset >= total || limit <= 0 {
		return users, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	for _, rec := range records[offset:end] {
		users = append(users, clone(rec.user))
	}
	return users, total, nil
}

func (r *MemoryUserRepository) mutate(id uuid.UUID, apply func(*types.User)) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	apply(&rec.user)
	rec.user.UpdatedAt = r.now()
	return clone(rec.user), nil
}

func clone(user types.User) types.User {
	if user.LastLogin != nil {
		at := *user.LastLogin
		user.LastLogin = &at
	}
	return user
}
