package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/utils"
	"gorm.io/gorm"
)

// AppsHandler handles application routes
type AppsHandler struct {
	DB *gorm.DB
}

// CreateApp handles POST /api/apps
// @Summary Create an application
// @Description Register a new application with no versions
// @Tags Apps
// @Accept json
// @Produce json
// @Param body body object true "Application name, title, description"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /apps [post]
func (h *AppsHandler) CreateApp(c *fiber.Ctx) error {
	var body struct {
		Name        string `json:"name"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "validation.input")
	}
	if body.Name == "" {
		return utils.ErrorResponse(c, "Invalid input: name is required", fiber.StatusBadRequest, "validation.input")
	}

	app, err := registry.CreateApplication(h.DB, body.Name, body.Title, body.Description)
	if err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

// GetApp handles GET /api/apps/:name
// @Summary Get an application
// @Description Get application details including the active version
// @Tags Apps
// @Produce json
// @Param name path string true "Application name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /apps/{name} [get]
func (h *AppsHandler) GetApp(c *fiber.Ctx) error {
	app, err := registry.GetApplication(h.DB, c.Params("name"))
	if err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(app)
}

// ListApps handles GET /api/apps
// @Summary List applications
// @Tags Apps
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /apps [get]
func (h *AppsHandler) ListApps(c *fiber.Ctx) error {
	apps, err := registry.ListApplications(h.DB)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "listApps")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"applications": apps})
}
