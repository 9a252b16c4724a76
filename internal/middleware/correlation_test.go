package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDEchoesAndPropagates(t *testing.T) {
	var seen string
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		seen = CorrelationIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get(CorrelationHeader))
	require.Equal(t, "abc-123", seen)
}

func TestCorrelationIDReplacesUnusableValues(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, strings.Repeat("x", 200))
	resp, err := app.Test(req)
	require.NoError(t, err)

	id := resp.Header.Get(CorrelationHeader)
	require.Len(t, id, 36)
}
