package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthService_RequiresToken(t *testing.T) {
	_, err := NewAuthService("  ")
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	token, err := ExtractBearerToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, err = ExtractBearerToken("bearer   spaced  ")
	require.NoError(t, err)
	assert.Equal(t, "spaced", token)

	for _, header := range []string{"", "Bearer", "Basic abc", "abc123"} {
		_, err := ExtractBearerToken(header)
		assert.ErrorIs(t, err, ErrMissingToken, header)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, err := NewAuthService("s3cret")
	require.NoError(t, err)

	authCtx, err := svc.Authenticate("Bearer s3cret")
	require.NoError(t, err)
	assert.Len(t, authCtx.Operator, 12)
	assert.NotContains(t, authCtx.Operator, "s3cret")

	_, err = svc.Authenticate("Bearer s3cre")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := NewAuthService("s3cret")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/protected", RequireAuth(svc), func(c *gin.Context) {
		authCtx := GetAuthContext(c.Request.Context())
		require.NotNil(t, authCtx)
		c.String(http.StatusOK, authCtx.Operator)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.String(), 12)
}

func TestGetAuthContext_Missing(t *testing.T) {
	assert.Nil(t, GetAuthContext(context.Background()))
}
