package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gptstore-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny       = "any"
	AuthRoleAdmin     = "admin"
	AuthRolePublisher = "publisher"
)

// roleGrants lists which caller roles satisfy each required role. Roles not
// listed here only match themselves.
var roleGrants = map[string][]string{
	AuthRoleAdmin:     {"admin", "reviewer"},
	AuthRolePublisher: {"publisher", "admin"},
}

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a single handler with authentication and role guards.
// Requiring any role other than AuthRoleAny implies RequireUser.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}
	requireUser := opts.RequireUser || role != AuthRoleAny

	accepted := map[string]struct{}{}
	if grants, ok := roleGrants[role]; ok {
		for _, grant := range grants {
			accepted[grant] = struct{}{}
		}
	} else {
		accepted[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if requireUser && c.Locals("user_id") == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if role == AuthRoleAny {
			return handler(c)
		}

		if _, ok := accepted[normalizeRoleValue(c.Locals("user_role"))]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return handler(c)
	}
}
