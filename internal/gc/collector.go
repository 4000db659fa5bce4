package gc

import (
	"context"
	"log"
	"time"

	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/metrics"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"gorm.io/gorm"
)

// Collector reclaims storage for versions retired past the retention
// window. Content shared with any pending or active version, or referenced
// by an activation record still inside the rollback window, is never
// touched. Registry rows are always deleted before blobs; the startup
// orphan sweep covers a crash between the two, keeping the registry the
// single source of truth.
type Collector struct {
	DB        *gorm.DB
	Store     *blob.Store
	Retention time.Duration
	Interval  time.Duration

	// Now is overridable for tests; zero value means time.Now.
	Now func() time.Time
}

// Stats summarizes one collection pass.
type Stats struct {
	Versions int
	Blobs    int
	Errors   int
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Run executes collection passes every Interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Garbage collector stopped")
			return
		case <-ticker.C:
			stats, err := c.Collect()
			if err != nil {
				log.Printf("Garbage collection pass failed: %v", err)
				continue
			}
			if stats.Versions > 0 || stats.Errors > 0 {
				log.Printf("Garbage collection pass: %d versions, %d blobs, %d errors",
					stats.Versions, stats.Blobs, stats.Errors)
			}
		}
	}
}

// Collect runs a single collection pass. Individual failures are logged,
// counted and skipped; one bad version never halts reclamation of the rest.
func (c *Collector) Collect() (Stats, error) {
	var stats Stats
	cutoff := c.now().Add(-c.Retention)

	var candidates []models.Version
	err := c.DB.Where("status = ? AND retired_at IS NOT NULL AND retired_at < ?",
		models.StatusRetired, cutoff).
		Find(&candidates).Error
	if err != nil {
		return stats, err
	}

	refs := registry.RefIndex{DB: c.DB}

	for _, v := range candidates {
		collected, err := c.collectOne(v, cutoff)
		if err != nil {
			log.Printf("Garbage collection skipped %s/%s: %v", v.AppName, v.VersionID, err)
			metrics.GCErrorsTotal.Inc()
			stats.Errors++
			continue
		}
		if !collected {
			continue
		}
		stats.Versions++
		metrics.GCCollectedTotal.Inc()

		// Blob goes only when no surviving version of any application still
		// shares the hash. Delete re-checks references itself right before
		// removal as a final guard against a deploy that just reused it.
		n, err := refs.CountRefs(v.ContentHash)
		if err != nil {
			metrics.GCErrorsTotal.Inc()
			stats.Errors++
			continue
		}
		if n == 0 {
			if err := c.Store.Delete(v.ContentHash, refs); err != nil {
				log.Printf("Garbage collection blob delete %s: %v", v.ContentHash, err)
				metrics.GCErrorsTotal.Inc()
				stats.Errors++
				continue
			}
			stats.Blobs++
			metrics.GCBlobsDeletedTotal.Inc()
		}
	}

	return stats, nil
}

// collectOne deletes a single version's registry row when it is safely
// beyond reach. The re-checks run inside one transaction so a concurrent
// rollback re-activating the version cannot interleave with the delete.
func (c *Collector) collectOne(v models.Version, cutoff time.Time) (bool, error) {
	collected := false
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var current models.Version
		if err := tx.Where("version_id = ?", v.VersionID).First(&current).Error; err != nil {
			return nil // already gone
		}
		if current.Status != models.StatusRetired ||
			current.RetiredAt == nil || !current.RetiredAt.Before(cutoff) {
			return nil // re-activated or retirement clock reset since scan
		}

		// Activation records inside the rollback window still referencing
		// this version keep it collectible-but-present for rollback.
		var n int64
		if err := tx.Model(&models.ActivationRecord{}).
			Where("created_at > ? AND (new_version_id = ? OR prev_version_id = ?)",
				cutoff, v.VersionID, v.VersionID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		if err := tx.Delete(&models.Version{}, "version_id = ?", v.VersionID).Error; err != nil {
			return err
		}
		collected = true
		return nil
	})
	return collected && err == nil, err
}

// SweepOrphans deletes blobs with no referencing version. Run at startup:
// after a crash mid-collection the registry rows are already gone, so any
// hash without a version is immediately collectible.
func (c *Collector) SweepOrphans() (int, error) {
	hashes, err := c.Store.ListHashes()
	if err != nil {
		return 0, err
	}

	refs := registry.RefIndex{DB: c.DB}
	deleted := 0
	for _, hash := range hashes {
		n, err := refs.CountRefs(hash)
		if err != nil {
			metrics.GCErrorsTotal.Inc()
			continue
		}
		if n > 0 {
			continue
		}
		if err := c.Store.Delete(hash, refs); err != nil {
			log.Printf("Orphan sweep %s: %v", hash, err)
			metrics.GCErrorsTotal.Inc()
			continue
		}
		deleted++
		metrics.GCBlobsDeletedTotal.Inc()
	}
	return deleted, nil
}
