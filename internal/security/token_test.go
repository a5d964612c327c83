package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermgmt/apiserver/types"
)

func TestTokenServiceIssueVerify(t *testing.T) {
	svc := NewTokenService("secret", 0)
	identity := Identity{UserID: uuid.New(), Role: types.RoleAdmin}

	token, err := svc.Issue(identity)
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
	assert.Equal(t, DefaultTokenTTL, svc.TTL())
}

func TestTokenServiceExpired(t *testing.T) {
	past := time.Now().Add(-8 * 24 * time.Hour)
	issuer := NewTokenService("secret", DefaultTokenTTL, WithClock(func() time.Time { return past }))
	verifier := NewTokenService("secret", DefaultTokenTTL)

	token, err := issuer.Issue(Identity{UserID: uuid.New(), Role: types.RoleUser})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenExpired, tokenErr.Kind)
}

func TestTokenServiceSignatureMismatch(t *testing.T) {
	issuer := NewTokenService("other-secret", 0)
	verifier := NewTokenService("secret", 0)

	token, err := issuer.Issue(Identity{UserID: uuid.New(), Role: types.RoleUser})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenSignatureInvalid, tokenErr.Kind)
}

func TestTokenServiceMalformed(t *testing.T) {
	svc := NewTokenService("secret", 0)

	tests := map[string]string{
		"garbage":  "not-a-token",
		"empty":    "",
		"unsigned": unsignedToken(t),
		"truncated": func() string {
			token, err := svc.Issue(Identity{UserID: uuid.New(), Role: types.RoleUser})
			require.NoError(t, err)
			return token[:strings.LastIndex(token, ".")]
		}(),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			var tokenErr *TokenError
			require.ErrorAs(t, err, &tokenErr)
			assert.Equal(t, TokenMalformed, tokenErr.Kind)
		})
	}
}

func TestTokenServiceRejectsUnknownRole(t *testing.T) {
	svc := NewTokenService("secret", 0)
	claims := Claims{
		UserID: uuid.NewString(),
		Role:   "root",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.Verify(token)
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenMalformed, tokenErr.Kind)
}

func unsignedToken(t *testing.T) string {
	t.Helper()
	claims := Claims{
		UserID: uuid.NewString(),
		Role:   string(types.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return token
}
