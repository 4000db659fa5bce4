package deploy

import (
	"errors"
	"sort"

	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/idgen"
	"github.com/localnerve/jam-build-sitehost/internal/metrics"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Orchestrator coordinates the multi-step publish flow:
// validate -> store content -> register version -> optionally activate.
type Orchestrator struct {
	DB              *gorm.DB
	Store           *blob.Store
	IDGen           idgen.Generator
	MaxArchiveBytes int64
	IndexDoc        string
}

// Deploy publishes an archive as a new version of appName. Validation is
// strict and happens before any persistence; a failed validation mutates
// nothing. When activate is requested and the activation loses a race, the
// version is returned alongside the conflict error and stays pending - the
// caller decides whether to retry activation or leave it for manual
// activation later.
func (o *Orchestrator) Deploy(appName string, archive []byte, activate bool) (*models.Version, *models.ActivationRecord, error) {
	if _, err := registry.GetApplication(o.DB, appName); err != nil {
		return nil, nil, err
	}

	tree, err := blob.ExtractArchive(archive, o.MaxArchiveBytes, o.IndexDoc)
	if err != nil {
		metrics.DeploysTotal.WithLabelValues("invalid").Inc()
		return nil, nil, err
	}

	hash, size, count, err := o.Store.Put(tree)
	if err != nil {
		metrics.DeploysTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	version, err := registry.CreateVersion(o.DB, o.IDGen, appName, hash, size, count, paths)
	if err != nil {
		// The blob may now be unreferenced; the orphan sweep reclaims it.
		metrics.DeploysTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	metrics.DeploysTotal.WithLabelValues("success").Inc()

	if !activate {
		return version, nil, nil
	}

	record, err := registry.Activate(o.DB, appName, version.VersionID)
	if err != nil {
		return version, nil, err
	}
	return version, record, nil
}

// Rollback re-activates the version that was active before the current one,
// according to the activation trail. The trail is durable, so rollback
// survives restarts; it goes through the same activation CAS as a forward
// deploy and can fail with a conflict under contention.
func (o *Orchestrator) Rollback(appName string) (*models.ActivationRecord, error) {
	app, err := registry.GetApplication(o.DB, appName)
	if err != nil {
		return nil, err
	}
	if app.ActiveVersionID == nil {
		return nil, types.NoPriorVersion(appName)
	}

	// The success record that promoted the current active version carries
	// the previous pointer value.
	var rec models.ActivationRecord
	err = o.DB.Session(&gorm.Session{Logger: o.DB.Logger.LogMode(logger.Silent)}).
		Where("app_name = ? AND new_version_id = ? AND outcome = ?",
			appName, *app.ActiveVersionID, models.OutcomeSuccess).
		Order("record_id desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && rec.PrevVersionID == nil) {
		return nil, types.NoPriorVersion(appName)
	}
	if err != nil {
		return nil, err
	}

	if _, err := registry.GetVersion(o.DB, appName, *rec.PrevVersionID); err != nil {
		// Previous version was collected; nothing to roll back to.
		if types.IsCode(err, types.CodeNotFound) {
			return nil, types.NoPriorVersion(appName)
		}
		return nil, err
	}

	return registry.ActivateFrom(o.DB, app, *rec.PrevVersionID)
}
