package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/usermgmt/apiserver/internal/services"
	"github.com/usermgmt/apiserver/types"
)

// AuthHandler serves signup, login, logout and session introspection.
type AuthHandler struct {
	auth *services.AuthService
	opts Options
	responder
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(auth *services.AuthService, opts Options) *AuthHandler {
	return &AuthHandler{auth: auth, opts: opts, responder: responder{debug: opts.Debug}}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, auth *services.AuthService, requireAuth func(http.Handler) http.Handler, opts Options) {
	handler := NewAuthHandler(auth, opts)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(requireAuth).Get("/me", handler.Me)
}

type SignupRequest struct {
	FullName        string `json:"fullName" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    types.User `json:"user"`
}

type UserResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	User    types.User `json:"user"`
}

// Signup creates a new account and opens a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = types.NormalizeEmail(req.Email)
	if err := validateRequest(&req); err != nil {
		h.error(w, r, err)
		return
	}

	session, err := h.auth.Signup(r.Context(), services.SignupInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.error(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "Signup successful",
		Token:   session.Token,
		User:    session.User,
	})
}

// Login verifies credentials and opens a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}
	req.Email = types.NormalizeEmail(req.Email)
	if err := validateRequest(&req); err != nil {
		h.error(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.error(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Login successful",
		Token:   session.Token,
		User:    session.User,
	})
}

// Logout clears the session cookie. The token itself stays valid until it
// expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logout successful"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	user, err := h.auth.Me(r.Context(), identity.UserID)
	if err != nil {
		h.error(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.cookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.opts.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
