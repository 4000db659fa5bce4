package registry_test

import (
	"sort"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/localnerve/jam-build-sitehost/internal/idgen"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite registry for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to create test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every session on the same :memory: database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Application{},
		&models.Version{},
		&models.ActivationRecord{},
	), "Failed to migrate test database")

	return db
}

func createVersion(t *testing.T, db *gorm.DB, appName, content string) *models.Version {
	t.Helper()
	v, err := registry.CreateVersion(db, idgen.New(), appName, "h-"+content, int64(len(content)), 1, []string{"index.html"})
	require.NoError(t, err)
	return v
}

func TestCreateApplication(t *testing.T) {
	db := setupTestDB(t)

	app, err := registry.CreateApplication(db, "docs", "", "internal docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", app.Name)
	assert.Equal(t, "docs", app.Title, "Title defaults to name")
	assert.Nil(t, app.ActiveVersionID)

	_, err = registry.CreateApplication(db, "docs", "", "")
	assert.True(t, types.IsCode(err, types.CodeAlreadyExists), "duplicate name: got %v", err)
}

func TestCreateApplicationInvalidName(t *testing.T) {
	db := setupTestDB(t)

	for _, name := range []string{"", "has space", "dot.dot", "-leading", "slash/y"} {
		_, err := registry.CreateApplication(db, name, "", "")
		assert.True(t, types.IsCode(err, types.CodeInvalidName), "name %q: got %v", name, err)
	}
}

func TestCreateVersionUnknownApplication(t *testing.T) {
	db := setupTestDB(t)

	_, err := registry.CreateVersion(db, idgen.New(), "nope", "abc", 1, 1, nil)
	assert.True(t, types.IsCode(err, types.CodeUnknownApp), "got %v", err)
}

func TestActivateReadYourWrites(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v := createVersion(t, db, "docs", "one")

	record, err := registry.Activate(db, "docs", v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.Nil(t, record.PrevVersionID)

	active, err := registry.GetActive(db, "docs")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v.VersionID, active.VersionID)
	assert.Equal(t, models.StatusActive, active.Status)
}

func TestActivateDemotesPrevious(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v1 := createVersion(t, db, "docs", "one")
	v2 := createVersion(t, db, "docs", "two")

	_, err = registry.Activate(db, "docs", v1.VersionID)
	require.NoError(t, err)

	record, err := registry.Activate(db, "docs", v2.VersionID)
	require.NoError(t, err)
	require.NotNil(t, record.PrevVersionID)
	assert.Equal(t, v1.VersionID, *record.PrevVersionID)

	prev, err := registry.GetVersion(db, "docs", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, prev.Status)
	assert.NotNil(t, prev.RetiredAt)

	active, err := registry.GetActive(db, "docs")
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, active.VersionID)
}

func TestActivateRetiredRollbackPath(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v1 := createVersion(t, db, "docs", "one")
	v2 := createVersion(t, db, "docs", "two")

	_, err = registry.Activate(db, "docs", v1.VersionID)
	require.NoError(t, err)
	_, err = registry.Activate(db, "docs", v2.VersionID)
	require.NoError(t, err)

	// retired -> active is the rollback transition
	_, err = registry.Activate(db, "docs", v1.VersionID)
	require.NoError(t, err)

	restored, err := registry.GetVersion(db, "docs", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, restored.Status)
	assert.Nil(t, restored.RetiredAt)
}

func TestActivateStaleObservationConflicts(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v1 := createVersion(t, db, "docs", "one")
	v2 := createVersion(t, db, "docs", "two")

	// Two callers observe the same application state; the first activation
	// wins the generation, the second must conflict with no mutation.
	stale, err := registry.GetApplication(db, "docs")
	require.NoError(t, err)

	_, err = registry.Activate(db, "docs", v1.VersionID)
	require.NoError(t, err)

	_, err = registry.ActivateFrom(db, stale, v2.VersionID)
	assert.True(t, types.IsCode(err, types.CodeConflict), "got %v", err)

	// Loser mutated nothing: pointer and target status are untouched.
	active, err := registry.GetActive(db, "docs")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, active.VersionID)

	loser, err := registry.GetVersion(db, "docs", v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loser.Status)

	// The lost race is still audited.
	var conflicts int64
	require.NoError(t, db.Model(&models.ActivationRecord{}).
		Where("app_name = ? AND outcome = ?", "docs", models.OutcomeConflict).
		Count(&conflicts).Error)
	assert.EqualValues(t, 1, conflicts)
}

func TestActivateAlreadyActiveConflicts(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v := createVersion(t, db, "docs", "one")

	_, err = registry.Activate(db, "docs", v.VersionID)
	require.NoError(t, err)

	_, err = registry.Activate(db, "docs", v.VersionID)
	assert.True(t, types.IsCode(err, types.CodeConflict), "got %v", err)
}

func TestGetActiveNone(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)

	active, err := registry.GetActive(db, "docs")
	require.NoError(t, err)
	assert.Nil(t, active, "application with no versions has a null active reference")
}

func TestListVersionsOrdered(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)

	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		ids = append(ids, createVersion(t, db, "docs", c).VersionID)
	}
	sort.Strings(ids)

	versions, err := registry.ListVersions(db, "docs")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, ids[i], v.VersionID, "versions must list ascending by identifier")
	}
}

func TestRetire(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	v1 := createVersion(t, db, "docs", "one")
	v2 := createVersion(t, db, "docs", "two")

	_, err = registry.Activate(db, "docs", v1.VersionID)
	require.NoError(t, err)

	err = registry.Retire(db, "docs", v1.VersionID)
	assert.True(t, types.IsCode(err, types.CodeRetireActive), "got %v", err)

	require.NoError(t, registry.Retire(db, "docs", v2.VersionID))
	retired, err := registry.GetVersion(db, "docs", v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, retired.Status)
	assert.NotNil(t, retired.RetiredAt)

	// Retiring twice is a no-op
	require.NoError(t, registry.Retire(db, "docs", v2.VersionID))
}

func TestRefIndex(t *testing.T) {
	db := setupTestDB(t)
	_, err := registry.CreateApplication(db, "docs", "", "")
	require.NoError(t, err)
	_, err = registry.CreateApplication(db, "blog", "", "")
	require.NoError(t, err)

	// Same content hash across applications counts every reference.
	_, err = registry.CreateVersion(db, idgen.New(), "docs", "shared", 1, 1, nil)
	require.NoError(t, err)
	_, err = registry.CreateVersion(db, idgen.New(), "blog", "shared", 1, 1, nil)
	require.NoError(t, err)

	refs := registry.RefIndex{DB: db}
	n, err := refs.CountRefs("shared")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = refs.CountRefs("absent")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
