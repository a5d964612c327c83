package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/usermgmt/apiserver/internal/apperr"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/internal/store"
)

// Options configures the HTTP handlers.
type Options struct {
	CookieName   string
	CookieSecure bool
	TokenTTL     time.Duration
	// Debug adds the underlying error text to 500 responses.
	Debug bool
}

func (o Options) cookieName() string {
	if o.CookieName == "" {
		return "token"
	}
	return o.CookieName
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// MessageResponse is a success body with only a message.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

var errInvalidBody = apperr.BadRequest("Invalid request body")

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// responder maps errors from any layer onto the response envelope.
type responder struct {
	debug bool
}

func (rs responder) error(w http.ResponseWriter, r *http.Request, err error) {
	status, body := rs.translate(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

func (rs responder) translate(err error) (int, ErrorResponse) {
	if appErr, ok := apperr.As(err); ok && appErr.Kind != apperr.KindInternal {
		return appErr.Status(), ErrorResponse{Message: appErr.Message, Errors: appErr.Fields}
	}

	var (
		dup      *store.DuplicateKeyError
		invalid  *store.InvalidIDError
		tokenErr *security.TokenError
	)
	switch {
	case errors.As(err, &dup):
		return http.StatusConflict, ErrorResponse{Message: fmt.Sprintf("%s already exists", capitalize(dup.Field))}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, ErrorResponse{Message: fmt.Sprintf("Invalid id: %s", invalid.Value)}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Message: "Resource not found"}
	case errors.As(err, &tokenErr):
		return http.StatusUnauthorized, ErrorResponse{Message: tokenMessage(tokenErr)}
	}

	body := ErrorResponse{Message: "Internal server error"}
	if rs.debug {
		body.Detail = err.Error()
	}
	return http.StatusInternalServerError, body
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errInvalidBody
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func tokenMessage(err *security.TokenError) string {
	if err.Kind == security.TokenExpired {
		return "Token expired"
	}
	return "Invalid token"
}
