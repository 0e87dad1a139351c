package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/config"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Errorf("subject = %q", rec.Body.String())
	}
}

func TestAuthMiddlewareCookie(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("user-2", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: signed})
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("cookie token rejected: %v", err)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	e := echo.New()
	handler := EchoAuthMiddleware([]byte("secret"))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err == nil {
		t.Fatal("missing token accepted")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if err := handler(e.NewContext(req, rec)); err == nil {
		t.Fatal("garbage token accepted")
	}

	expired, err := SignJWT("user-1", []byte("secret"), -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	if err := handler(e.NewContext(req, rec)); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(nil); err == nil {
		t.Fatal("nil config accepted")
	}
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatal("empty secret accepted")
	}
	secret, err := LoadJWTSecret(&config.Config{Server: config.ServerConfig{JWTSecret: "s"}})
	if err != nil || string(secret) != "s" {
		t.Fatalf("secret = %q err = %v", secret, err)
	}
}
