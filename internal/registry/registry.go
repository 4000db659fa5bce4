package registry

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/localnerve/jam-build-sitehost/internal/idgen"
	"github.com/localnerve/jam-build-sitehost/internal/metrics"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/hints"
)

// Application names become host labels and path prefixes, so the charset is
// restricted up front.
var appNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*$`)

// CreateApplication registers a new application with no versions and a null
// active pointer.
func CreateApplication(db *gorm.DB, name, title, description string) (*models.Application, error) {
	if !appNameRe.MatchString(name) {
		return nil, types.InvalidName(name)
	}
	if title == "" {
		title = name
	}

	app := models.Application{Name: name, Title: title, Description: description}
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Application
		err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
			Where("name = ?", name).
			First(&existing).Error
		if err == nil {
			return types.AlreadyExists("application", name)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&app).Error
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApplication looks an application up by name.
func GetApplication(db *gorm.DB, name string) (*models.Application, error) {
	var app models.Application
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("name = ?", name).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.UnknownApplication(name)
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func ListApplications(db *gorm.DB) ([]models.Application, error) {
	var apps []models.Application
	if err := db.Order("name asc").Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

// CreateVersion records a new pending version for an application. The
// identifier comes from the injected generator; content must already be
// durably stored under contentHash before this is called.
func CreateVersion(db *gorm.DB, gen idgen.Generator, appName, contentHash string, byteSize int64, assetCount int, manifest []string) (*models.Version, error) {
	if _, err := GetApplication(db, appName); err != nil {
		return nil, err
	}

	id, err := gen.NewID()
	if err != nil {
		return nil, err
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, err
	}

	version := models.Version{
		VersionID:   id,
		AppName:     appName,
		ContentHash: contentHash,
		Status:      models.StatusPending,
		ByteSize:    byteSize,
		AssetCount:  assetCount,
		Manifest:    models.JSON{JSON: datatypes.JSON(manifestJSON)},
	}
	if err := db.Create(&version).Error; err != nil {
		return nil, err
	}
	return &version, nil
}

// GetVersion looks a version up and verifies it belongs to the application.
func GetVersion(db *gorm.DB, appName, versionID string) (*models.Version, error) {
	var version models.Version
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("version_id = ? AND app_name = ?", versionID, appName).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("version", appName+"/"+versionID)
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// Activate flips the application's active pointer to versionID as a single
// atomic transition: demote the previously active version to retired,
// promote the target, append a success record to the activation trail.
//
// Concurrency is optimistic: the transaction commits only when the
// activation generation read at the start is still current. A concurrent
// activation that got there first makes this one fail with a conflict and no
// partial mutation; the caller re-reads and retries. Conflicts are never
// retried here, so contention stays visible to callers.
func Activate(db *gorm.DB, appName, versionID string) (*models.ActivationRecord, error) {
	app, err := GetApplication(db, appName)
	if err != nil {
		return nil, err
	}
	return ActivateFrom(db, app, versionID)
}

// ActivateFrom performs the activation CAS against the observed application
// state. Exposed separately so callers that already hold a snapshot (and
// tests exercising stale observations) drive the same transition.
func ActivateFrom(db *gorm.DB, app *models.Application, versionID string) (*models.ActivationRecord, error) {
	var record models.ActivationRecord

	err := db.Transaction(func(tx *gorm.DB) error {
		version, err := GetVersion(tx, app.Name, versionID)
		if err != nil {
			return err
		}
		if version.Status == models.StatusActive {
			// Pointer already moved to (or past) this version since the
			// caller observed it.
			return types.Conflict(app.Name)
		}

		// The compare-and-swap: conditional on the generation the caller
		// observed. RowsAffected == 0 means a concurrent activation won.
		res := tx.Model(&models.Application{}).
			Where("name = ? AND activation_gen = ?", app.Name, app.ActivationGen).
			Updates(map[string]interface{}{
				"active_version_id": versionID,
				"activation_gen":    app.ActivationGen + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.Conflict(app.Name)
		}

		now := time.Now().UTC()
		if app.ActiveVersionID != nil && *app.ActiveVersionID != versionID {
			if err := tx.Model(&models.Version{}).
				Where("version_id = ?", *app.ActiveVersionID).
				Updates(map[string]interface{}{
					"status":     models.StatusRetired,
					"retired_at": now,
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Version{}).
			Where("version_id = ?", versionID).
			Updates(map[string]interface{}{
				"status":     models.StatusActive,
				"retired_at": nil,
			}).Error; err != nil {
			return err
		}

		record = models.ActivationRecord{
			AppName:       app.Name,
			PrevVersionID: app.ActiveVersionID,
			NewVersionID:  versionID,
			Outcome:       models.OutcomeSuccess,
		}
		return tx.Create(&record).Error
	})

	if err != nil {
		if types.IsCode(err, types.CodeConflict) {
			metrics.ActivationsTotal.WithLabelValues(models.OutcomeConflict).Inc()
			// Best-effort audit of the lost race; the failed activation
			// itself mutated nothing.
			db.Create(&models.ActivationRecord{
				AppName:       app.Name,
				PrevVersionID: app.ActiveVersionID,
				NewVersionID:  versionID,
				Outcome:       models.OutcomeConflict,
			})
		}
		return nil, err
	}

	metrics.ActivationsTotal.WithLabelValues(models.OutcomeSuccess).Inc()
	return &record, nil
}

// GetActive returns the application's currently active version, or nil when
// no version has been activated yet. Plain reads only: it reflects the pre-
// or post-state of any activation, never an intermediate.
func GetActive(db *gorm.DB, appName string) (*models.Version, error) {
	app, err := GetApplication(db, appName)
	if err != nil {
		return nil, err
	}
	if app.ActiveVersionID == nil {
		return nil, nil
	}
	return GetVersion(db, appName, *app.ActiveVersionID)
}

// ListVersions returns all versions of an application, every status
// included, ascending by identifier. UUIDv7 identifiers sort by creation
// time, so this is creation order.
func ListVersions(db *gorm.DB, appName string) ([]models.Version, error) {
	if _, err := GetApplication(db, appName); err != nil {
		return nil, err
	}

	q := db.Where("app_name = ?", appName).Order("version_id asc")
	if db.Dialector.Name() == "mysql" {
		q = q.Clauses(hints.New("MAX_EXECUTION_TIME(1000)"))
	}

	var versions []models.Version
	if err := q.Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// Retire marks an abandoned pending version as retired. The active version
// cannot be retired directly; activate a different version first.
func Retire(db *gorm.DB, appName, versionID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		version, err := GetVersion(tx, appName, versionID)
		if err != nil {
			return err
		}
		if version.Status == models.StatusActive {
			return types.CannotRetireActive(appName, versionID)
		}
		if version.Status == models.StatusRetired {
			return nil
		}
		return tx.Model(&models.Version{}).
			Where("version_id = ?", versionID).
			Updates(map[string]interface{}{
				"status":     models.StatusRetired,
				"retired_at": time.Now().UTC(),
			}).Error
	})
}

// RefIndex counts version references per content hash. The content store
// consults it before deleting a blob.
type RefIndex struct {
	DB *gorm.DB
}

func (r RefIndex) CountRefs(hash string) (int64, error) {
	var n int64
	err := r.DB.Model(&models.Version{}).
		Where("content_hash = ?", hash).
		Count(&n).Error
	return n, err
}
