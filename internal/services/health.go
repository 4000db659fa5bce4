package services

import (
	"fmt"
	"log"

	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/config"
	"gorm.io/gorm"
)

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       string            `json:"status"`
	Database     string            `json:"database"`
	BlobStore    string            `json:"blobStore"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
}

// HealthCheck verifies the registry database and the content store are
// reachable.
func HealthCheck(cfg *config.Config, db *gorm.DB, store *blob.Store) HealthCheckResult {
	result := HealthCheckResult{
		Status:  "healthy",
		Details: make(map[string]string),
	}

	sqlDB, err := db.DB()
	if err != nil {
		result.Status = "unhealthy"
		result.Database = "error"
		result.ErrorMessage = fmt.Sprintf("Database connection error: %v", err)
		log.Printf("Health check failed - database connection: %v", err)
	} else if err := sqlDB.Ping(); err != nil {
		result.Status = "unhealthy"
		result.Database = "unreachable"
		result.ErrorMessage = fmt.Sprintf("Database ping failed: %v", err)
		log.Printf("Health check failed - database ping: %v", err)
	} else {
		result.Database = "ok"
		result.Details["database_type"] = cfg.DBType
		result.Details["database_name"] = cfg.DBDatabase
	}

	if _, err := store.Has("healthcheck"); err != nil {
		result.Status = "unhealthy"
		result.BlobStore = "error"
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("Blob store read failed: %v", err)
		} else {
			result.ErrorMessage += fmt.Sprintf("; blob store read failed: %v", err)
		}
		log.Printf("Health check failed - blob store: %v", err)
	} else {
		result.BlobStore = "ok"
		result.Details["blob_path"] = cfg.BlobPath
	}

	return result
}
