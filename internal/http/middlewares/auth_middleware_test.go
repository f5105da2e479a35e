package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ksavchuk/contacthub/internal/auth"
	"github.com/ksavchuk/contacthub/internal/domain/user"
)

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f *fakeVerifier) VerifySessionToken(token string) (*auth.Claims, error) {
	return f.claims, f.err
}

type fakeUserLoader struct {
	u   user.User
	err error
}

func (f *fakeUserLoader) GetByID(ctx context.Context, id string) (user.User, error) {
	return f.u, f.err
}

func newAuthRouter(m *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", m.RequireAuth(), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": id})
	})
	return r
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	m := NewAuthMiddleware(&fakeVerifier{}, &fakeUserLoader{})
	r := newAuthRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	m := NewAuthMiddleware(&fakeVerifier{err: errors.New("bad token")}, &fakeUserLoader{})
	r := newAuthRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_TokenNotStoredOnUser(t *testing.T) {
	// a verified JWT is still rejected after logout cleared the stored token
	m := NewAuthMiddleware(
		&fakeVerifier{claims: &auth.Claims{UserID: "u1"}},
		&fakeUserLoader{u: user.User{ID: "u1", Token: ""}},
	)
	r := newAuthRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

func TestRequireAuth_Valid(t *testing.T) {
	m := NewAuthMiddleware(
		&fakeVerifier{claims: &auth.Claims{UserID: "u1"}},
		&fakeUserLoader{u: user.User{ID: "u1", Email: "a@b.co", Token: "some.jwt.token", Subscription: user.SubscriptionStarter}},
	)
	r := newAuthRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
