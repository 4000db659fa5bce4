package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// PinHeader names the request header that pins serving to an explicit
// version, bypassing the active pointer. Used for previewing pending
// versions before activation.
const PinHeader = "X-Sitehost-Version"

// PinnedVersionKey is the Locals key the serving handler reads.
const PinnedVersionKey = "pinnedVersion"

// PinnedVersion parses the version pin header and stores it in context
func PinnedVersion() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if pin := c.Get(PinHeader); pin != "" {
			c.Locals(PinnedVersionKey, pin)
		}
		return c.Next()
	}
}
