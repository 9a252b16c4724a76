package middleware

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gptstore-api/internal/utils"
)

// RequireRole lets the request through only when the caller's role is one of
// roles. Rejections list the accepted roles so clients can surface them.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	accepted := make([]string, 0, len(allowed))
	for role := range allowed {
		accepted = append(accepted, role)
	}
	sort.Strings(accepted)

	return func(c *fiber.Ctx) error {
		if c.Locals("user_id") == nil && c.Locals("user_role") == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		role := normalizeRoleValue(c.Locals("user_role"))
		if _, ok := allowed[role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_roles": accepted})
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
