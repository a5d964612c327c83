package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/usermgmt/apiserver/internal/apperr"
)

const (
	passwordSymbols      = "@$!%*?&"
	msgValidationFailed  = "Validation failed"
	msgPasswordLength    = "Password must be at least 8 characters long"
	msgPasswordStrength  = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	msgInvalidEmail      = "Please provide a valid email address"
	msgFullNameLength    = "Full name must be at least 2 characters long"
	msgPasswordsMismatch = "Passwords do not match"
)

var validate = newValidator()

// fieldMessages is keyed by "<Struct>.<field>.<tag>" and then "<field>.<tag>".
var fieldMessages = map[string]string{
	"fullName.required":          "Full name is required",
	"fullName.min":               msgFullNameLength,
	"email.required":             "Email is required",
	"email.email":                msgInvalidEmail,
	"password.required":          "Password is required",
	"password.min":               msgPasswordLength,
	"password.strongpassword":    msgPasswordStrength,
	"confirmPassword.required":   "Please confirm your password",
	"confirmPassword.eqfield":    msgPasswordsMismatch,
	"oldPassword.required":       "Current password is required",
	"newPassword.required":       "New password is required",
	"newPassword.min":            msgPasswordLength,
	"newPassword.strongpassword": msgPasswordStrength,
	"newPassword.nefield":        "New password must be different from current password",

	"ChangePasswordRequest.confirmPassword.required": "Please confirm your new password",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// IsStrongPassword reports whether password has an ASCII uppercase letter,
// an ASCII lowercase letter, an ASCII digit and one of @$!%*?&, and starts
// with one of those characters. Length is checked separately.
func IsStrongPassword(password string) bool {
	if password == "" || !isPasswordRune(rune(password[0])) {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func isPasswordRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		strings.ContainsRune(passwordSymbols, r)
}

// validateRequest runs struct validation and appends extra field errors.
// It returns nil when there is nothing to report.
func validateRequest(req any, extra ...apperr.FieldError) error {
	fields := append([]apperr.FieldError(nil), extra...)

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return apperr.Validation(msgValidationFailed, fields...)
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Namespace()+"."+fe.Tag()]; ok {
		return msg
	}
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fe.Field() + " is invalid"
}
