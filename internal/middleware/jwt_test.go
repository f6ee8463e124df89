package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kasa-exchange/kasa/internal/auth"
	"github.com/kasa-exchange/kasa/internal/config"
)

const testSecret = "test-secret"

func authApp() *fiber.App {
	cfg := config.Config{JWTSecret: testSecret}
	app := fiber.New()
	app.Get("/me", JWTAuth(cfg), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c)})
	})
	app.Get("/admin", JWTAuth(cfg), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func token(t *testing.T, claims map[string]any) string {
	t.Helper()
	tok, err := auth.SignHS256(claims, []byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestJWTAuth(t *testing.T) {
	app := authApp()

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("missing token: status %d, want 401", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, map[string]any{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("valid token: status %d, want 200", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, map[string]any{
		"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix(),
	}))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expired token: status %d, want 401", resp.StatusCode)
	}
}

func TestRequireAdmin(t *testing.T) {
	app := authApp()

	req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, map[string]any{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("non-admin: status %d, want 403", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, map[string]any{
		"sub": "admin-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("admin: status %d, want 200", resp.StatusCode)
	}
}
