package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/jam-build-sitehost/internal/deploy"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"github.com/localnerve/jam-build-sitehost/internal/utils"
	"gorm.io/gorm"
)

// VersionsHandler handles publish, activation and version listing routes
type VersionsHandler struct {
	DB           *gorm.DB
	Orchestrator *deploy.Orchestrator
}

// Publish handles POST /api/apps/:name/versions
// @Summary Publish a version
// @Description Upload an asset archive (tar, tar.gz or a raw document) as a new version; activate immediately with ?activate=true
// @Tags Versions
// @Accept octet-stream
// @Produce json
// @Param name path string true "Application name"
// @Param activate query bool false "Activate after publish"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /apps/{name}/versions [post]
func (h *VersionsHandler) Publish(c *fiber.Ctx) error {
	appName := c.Params("name")
	activate := c.QueryBool("activate")

	version, record, err := h.Orchestrator.Deploy(appName, c.Body(), activate)
	if err != nil {
		// A conflict on immediate activation still created the version; it
		// stays pending and the caller decides what to do with it.
		if version != nil && types.IsCode(err, types.CodeConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"version":  version,
				"ok":       false,
				"code":     types.CodeConflict,
				"conflict": true,
			})
		}
		return utils.DomainErrorResponse(c, err)
	}

	resp := fiber.Map{"version": version, "ok": true}
	if record != nil {
		resp["activation"] = record
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListVersions handles GET /api/apps/:name/versions
// @Summary List versions
// @Description List all versions of an application in creation order, every status included
// @Tags Versions
// @Produce json
// @Param name path string true "Application name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /apps/{name}/versions [get]
func (h *VersionsHandler) ListVersions(c *fiber.Ctx) error {
	versions, err := registry.ListVersions(h.DB, c.Params("name"))
	if err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"versions": versions})
}

// Activate handles POST /api/apps/:name/versions/:version/activate
// @Summary Activate a version
// @Description Atomically make the version active; the previously active version is retired
// @Tags Versions
// @Produce json
// @Param name path string true "Application name"
// @Param version path string true "Version identifier"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /apps/{name}/versions/{version}/activate [post]
func (h *VersionsHandler) Activate(c *fiber.Ctx) error {
	record, err := registry.Activate(h.DB, c.Params("name"), c.Params("version"))
	if err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"activation": record, "ok": true})
}

// Retire handles POST /api/apps/:name/versions/:version/retire
// @Summary Retire a pending version
// @Description Mark an abandoned pending version retired; fails if the version is active
// @Tags Versions
// @Produce json
// @Param name path string true "Application name"
// @Param version path string true "Version identifier"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /apps/{name}/versions/{version}/retire [post]
func (h *VersionsHandler) Retire(c *fiber.Ctx) error {
	if err := registry.Retire(h.DB, c.Params("name"), c.Params("version")); err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// Rollback handles POST /api/apps/:name/rollback
// @Summary Roll back to the previous version
// @Description Re-activate the version that was active before the current one
// @Tags Versions
// @Produce json
// @Param name path string true "Application name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /apps/{name}/rollback [post]
func (h *VersionsHandler) Rollback(c *fiber.Ctx) error {
	record, err := h.Orchestrator.Rollback(c.Params("name"))
	if err != nil {
		return utils.DomainErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"activation": record, "ok": true})
}
