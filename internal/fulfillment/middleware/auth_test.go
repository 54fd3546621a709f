package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func setup(t *testing.T) (*JWTConfig, *models.User, *models.User) {
	t.Helper()
	repo, err := repository.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	customer := &models.User{Email: "joe@example.com", Role: models.RoleCustomer, PasswordHash: "x"}
	admin := &models.User{Email: "admin@example.com", Role: models.RoleAdmin, PasswordHash: "x"}
	_, err = repo.CreateUser(context.Background(), customer)
	require.NoError(t, err)
	_, err = repo.CreateUser(context.Background(), admin)
	require.NoError(t, err)

	return &JWTConfig{SecretKey: secret, Repo: repo}, customer, admin
}

func protected(cfg *JWTConfig, role string) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := GetPrincipal(r.Context())
		w.Write([]byte(p.Email))
	})
	h := http.Handler(final)
	if role != "" {
		h = RequireRole(role)(h)
	}
	return AuthMiddleware(cfg)(h)
}

func TestAuthMiddleware(t *testing.T) {
	cfg, customer, _ := setup(t)
	token, err := GenerateToken(customer, secret)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "joe@example.com", rec.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: authCookieName, Value: token})
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := GenerateToken(customer, "other")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		claims := JWTClaims{
			UserID: customer.ID,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		old, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+old)
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		ghost, err := GenerateToken(&models.User{ID: 42, Email: "ghost@example.com"}, secret)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+ghost)
		rec := httptest.NewRecorder()
		protected(cfg, "").ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	cfg, customer, admin := setup(t)

	customerToken, err := GenerateToken(customer, secret)
	require.NoError(t, err)
	adminToken, err := GenerateToken(admin, secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customerToken)
	rec := httptest.NewRecorder()
	protected(cfg, models.RoleAdmin).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	protected(cfg, models.RoleAdmin).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrincipalCanAccess(t *testing.T) {
	c := Principal{Email: "joe@example.com", Role: models.RoleCustomer}
	a := Principal{Email: "admin@example.com", Role: models.RoleAdmin}

	assert.True(t, c.CanAccess("joe@example.com"))
	assert.False(t, c.CanAccess("ann@example.com"))
	assert.True(t, a.CanAccess("ann@example.com"))
}

func TestParseToken(t *testing.T) {
	user := &models.User{ID: 7, Email: "joe@example.com", Role: models.RoleCustomer}
	token, err := GenerateToken(user, secret)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "joe@example.com", claims.Email)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)

	_, err = ParseToken("", secret)
	assert.Error(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: 7})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(raw, secret)
	assert.Error(t, err)
}
