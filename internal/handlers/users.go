package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/usermgmt/apiserver/internal/apperr"
	"github.com/usermgmt/apiserver/internal/services"
	"github.com/usermgmt/apiserver/internal/store"
	"github.com/usermgmt/apiserver/types"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// UserHandler serves self-service and administrative account endpoints.
type UserHandler struct {
	accounts *services.AccountService
	responder
}

func NewUserHandler(accounts *services.AccountService, opts Options) *UserHandler {
	return &UserHandler{accounts: accounts, responder: responder{debug: opts.Debug}}
}

// UserRouter registers user routes. Every route requires a session; listing
// and status changes additionally require the admin role.
func UserRouter(r chi.Router, accounts *services.AccountService, requireAuth func(http.Handler) http.Handler, opts Options) {
	handler := NewUserHandler(accounts, opts)
	adminOnly := RequireRole(types.RoleAdmin)

	r.Use(requireAuth)
	r.With(adminOnly).Get("/", handler.ListUsers)
	r.Put("/me", handler.UpdateProfile)
	r.Put("/me/password", handler.ChangePassword)
	r.With(adminOnly).Patch("/{id}/status", handler.ToggleStatus)
}

// UpdateProfileRequest accepts fullName and email. Role, status and password
// are decoded only so their presence can be rejected.
type UpdateProfileRequest struct {
	FullName *string         `json:"fullName" validate:"omitnil,min=2"`
	Email    *string         `json:"email" validate:"omitnil,email"`
	Role     json.RawMessage `json:"role"`
	Status   json.RawMessage `json:"status"`
	Password json.RawMessage `json:"password"`
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,strongpassword,nefield=OldPassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type UsersResponse struct {
	Success    bool                `json:"success"`
	Users      []types.User        `json:"users"`
	Pagination services.Pagination `json:"pagination"`
}

// ListUsers returns a page of users, newest first.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePagination(r)
	if err != nil {
		h.error(w, r, err)
		return
	}

	result, err := h.accounts.ListUsers(r.Context(), page, limit)
	if err != nil {
		h.error(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UsersResponse{
		Success:    true,
		Users:      result.Users,
		Pagination: result.Pagination,
	})
}

// ToggleStatus flips the target user between active and inactive.
func (h *UserHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	targetID, err := store.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.error(w, r, err)
		return
	}

	change, err := h.accounts.ToggleStatus(r.Context(), identity.UserID, targetID)
	if err != nil {
		h.error(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, Message: change.Message, User: change.User})
}

// UpdateProfile changes the caller's own name and email.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}
	if req.FullName != nil {
		trimmed := strings.TrimSpace(*req.FullName)
		req.FullName = &trimmed
	}
	if req.Email != nil {
		normalized := types.NormalizeEmail(*req.Email)
		req.Email = &normalized
	}
	if err := validateRequest(&req, lockedFields(req)...); err != nil {
		h.error(w, r, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), identity.UserID, services.ProfileUpdate{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		h.error(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, Message: "Profile updated successfully", User: user})
}

// ChangePassword replaces the caller's password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		h.error(w, r, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), identity.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.error(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Password changed successfully"})
}

// lockedFields reports fields the profile endpoint never accepts, whatever
// their value.
func lockedFields(req UpdateProfileRequest) []apperr.FieldError {
	var fields []apperr.FieldError
	if len(req.Role) > 0 {
		fields = append(fields, apperr.FieldError{Field: "role", Message: "Role cannot be modified"})
	}
	if len(req.Status) > 0 {
		fields = append(fields, apperr.FieldError{Field: "status", Message: "Status cannot be modified"})
	}
	if len(req.Password) > 0 {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "Use the change password endpoint to update password"})
	}
	return fields
}

func parsePagination(r *http.Request) (page, limit int, err error) {
	page = defaultPage
	limit = defaultLimit
	var fields []apperr.FieldError

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			fields = append(fields, apperr.FieldError{Field: "page", Message: "Page must be a positive integer"})
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			fields = append(fields, apperr.FieldError{Field: "limit", Message: "Limit must be a positive integer"})
		}
	}

	if len(fields) > 0 {
		return 0, 0, apperr.Validation(msgValidationFailed, fields...)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, nil
}
