package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/jam-build-sitehost/internal/types"
)

// ErrorResponse sends a standard error envelope
func ErrorResponse(c *fiber.Ctx, message string, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"ok":        false,
		"code":      code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"status":    fiber.StatusNotFound,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// ConflictResponse sends a 409 for a lost activation race
func ConflictResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"status":    fiber.StatusConflict,
		"message":   message,
		"ok":        false,
		"code":      types.CodeConflict,
		"conflict":  true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// DomainErrorResponse maps a registry/store error code onto an HTTP status
// and sends the standard envelope. Unrecognized errors become a 500 with
// the raw message.
func DomainErrorResponse(c *fiber.Ctx, err error) error {
	code := types.Code(err)
	switch code {
	case types.CodeAlreadyExists:
		return ErrorResponse(c, err.Error(), fiber.StatusConflict, code)
	case types.CodeConflict:
		return ConflictResponse(c, err.Error())
	case types.CodeUnknownApp, types.CodeNotFound, types.CodeNoPrior:
		return ErrorResponse(c, err.Error(), fiber.StatusNotFound, code)
	case types.CodeInvalidArchive, types.CodeInvalidPath, types.CodeInvalidName:
		return ErrorResponse(c, err.Error(), fiber.StatusBadRequest, code)
	case types.CodeRetireActive, types.CodeReferenced:
		return ErrorResponse(c, err.Error(), fiber.StatusConflict, code)
	default:
		return ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "unknown")
	}
}

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Ok        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Conflict  bool   `json:"conflict,omitempty"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
}
