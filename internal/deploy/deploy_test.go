package deploy_test

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/klauspost/compress/gzip"
	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/deploy"
	"github.com/localnerve/jam-build-sitehost/internal/idgen"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newOrchestrator(t *testing.T) *deploy.Orchestrator {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Application{},
		&models.Version{},
		&models.ActivationRecord{},
	))

	store, err := blob.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &deploy.Orchestrator{
		DB:              db,
		Store:           store,
		IDGen:           idgen.New(),
		MaxArchiveBytes: 1 << 20,
		IndexDoc:        "index.html",
	}
}

func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestDeployLifecycle(t *testing.T) {
	o := newOrchestrator(t)
	_, err := registry.CreateApplication(o.DB, "docs", "", "")
	require.NoError(t, err)

	siteA := makeArchive(t, map[string]string{
		"index.html":    "<h1>A</h1>",
		"css/style.css": "body{}",
	})
	siteB := makeArchive(t, map[string]string{
		"index.html": "<h1>B</h1>",
	})

	// publish + activate
	v1, record, err := o.Deploy("docs", siteA, true)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.Equal(t, 2, v1.AssetCount)

	active, err := registry.GetActive(o.DB, "docs")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, active.VersionID)

	// Identical content deploys again as a distinct pending version sharing
	// the same content hash.
	v2, record, err := o.Deploy("docs", siteA, false)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NotEqual(t, v1.VersionID, v2.VersionID)
	assert.Equal(t, v1.ContentHash, v2.ContentHash)
	assert.Equal(t, models.StatusPending, v2.Status)

	// Different content, activated: v1 is demoted.
	v3, record, err := o.Deploy("docs", siteB, true)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, v1.VersionID, *record.PrevVersionID)

	demoted, err := registry.GetVersion(o.DB, "docs", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, demoted.Status)

	// Rollback restores v1 and demotes v3.
	rbRecord, err := o.Rollback("docs")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, rbRecord.NewVersionID)

	active, err = registry.GetActive(o.DB, "docs")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, active.VersionID)

	demoted, err = registry.GetVersion(o.DB, "docs", v3.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, demoted.Status)
}

func TestDeployUnknownApplication(t *testing.T) {
	o := newOrchestrator(t)

	_, _, err := o.Deploy("ghost", makeArchive(t, map[string]string{"index.html": "x"}), false)
	assert.True(t, types.IsCode(err, types.CodeUnknownApp), "got %v", err)
}

func TestDeployInvalidArchiveMutatesNothing(t *testing.T) {
	o := newOrchestrator(t)
	_, err := registry.CreateApplication(o.DB, "docs", "", "")
	require.NoError(t, err)

	// tar without the required index document
	_, _, err = o.Deploy("docs", makeArchive(t, map[string]string{"about.html": "x"}), true)
	assert.True(t, types.IsCode(err, types.CodeInvalidArchive), "got %v", err)

	versions, err := registry.ListVersions(o.DB, "docs")
	require.NoError(t, err)
	assert.Empty(t, versions, "failed validation must not register a version")

	hashes, err := o.Store.ListHashes()
	require.NoError(t, err)
	assert.Empty(t, hashes, "failed validation must not store content")
}

func TestRollbackNoPrior(t *testing.T) {
	o := newOrchestrator(t)
	_, err := registry.CreateApplication(o.DB, "docs", "", "")
	require.NoError(t, err)

	// No active version at all.
	_, err = o.Rollback("docs")
	assert.True(t, types.IsCode(err, types.CodeNoPrior), "got %v", err)

	// A single activated version has nothing before it.
	_, _, err = o.Deploy("docs", makeArchive(t, map[string]string{"index.html": "x"}), true)
	require.NoError(t, err)
	_, err = o.Rollback("docs")
	assert.True(t, types.IsCode(err, types.CodeNoPrior), "got %v", err)
}

func TestDeployConflictKeepsVersionPending(t *testing.T) {
	o := newOrchestrator(t)
	app, err := registry.CreateApplication(o.DB, "docs", "", "")
	require.NoError(t, err)

	v1, _, err := o.Deploy("docs", makeArchive(t, map[string]string{"index.html": "a"}), false)
	require.NoError(t, err)
	v2, _, err := o.Deploy("docs", makeArchive(t, map[string]string{"index.html": "b"}), false)
	require.NoError(t, err)

	_, err = registry.Activate(o.DB, "docs", v1.VersionID)
	require.NoError(t, err)

	// app still holds the pre-activation snapshot; its generation is stale.
	_, err = registry.ActivateFrom(o.DB, app, v2.VersionID)
	require.True(t, types.IsCode(err, types.CodeConflict), "got %v", err)

	loser, err := registry.GetVersion(o.DB, "docs", v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loser.Status)
}
