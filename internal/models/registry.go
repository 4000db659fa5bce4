package models

import (
	"time"
)

// Version status values. A version is created pending, becomes active through
// an activation, and is demoted to retired when another version activates.
// The rollback path re-activates a retired version through the same
// transition; there is no other way out of retired.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Application is a named static site with an evolving set of versions.
// Name is immutable and unique. ActiveVersionID points at the currently
// served version and is null until the first activation.
//
// ActivationGen is the compare-and-swap generation for the active pointer:
// every successful activation increments it, and the activation transaction
// only commits when the generation it read is still current. Readers never
// take locks on it.
type Application struct {
	AppID           uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	Name            string  `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Title           string  `gorm:"size:255" json:"title"`
	Description     string  `gorm:"size:1024" json:"description"`
	ActiveVersionID *string `gorm:"size:36;index" json:"activeVersion"`
	ActivationGen   uint64  `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"-"`
}

// Version is an immutable, content-addressed snapshot of an application's
// assets. VersionID is a UUIDv7, so ascending lexical order is creation
// order. ContentHash and VersionID never change after creation; only Status
// transitions.
type Version struct {
	VersionID   string     `gorm:"primaryKey;size:36" json:"version"`
	AppName     string     `gorm:"index;size:255;not null" json:"app"`
	ContentHash string     `gorm:"index;size:64;not null" json:"contentHash"`
	Status      string     `gorm:"size:16;not null;default:pending" json:"status"`
	ByteSize    int64      `gorm:"not null;default:0" json:"byteSize"`
	AssetCount  int        `gorm:"not null;default:0" json:"assetCount"`
	Manifest    JSON       `gorm:"type:json" json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	RetiredAt   *time.Time `gorm:"index" json:"retiredAt,omitempty"`
}

// ActivationRecord is the append-only activation audit trail. Records are
// never mutated or deleted; rollback reads the trail to find the previous
// active version, and the garbage collector consults it before reclaiming
// retired content.
type ActivationRecord struct {
	RecordID      uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	AppName       string    `gorm:"index;size:255;not null" json:"app"`
	PrevVersionID *string   `gorm:"size:36" json:"prevVersion"`
	NewVersionID  string    `gorm:"size:36;not null" json:"newVersion"`
	Outcome       string    `gorm:"size:16;not null" json:"outcome"`
	CreatedAt     time.Time `gorm:"index" json:"timestamp"`
}

// Activation outcomes recorded in the trail.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
)

func (Application) TableName() string {
	return "applications"
}

func (Version) TableName() string {
	return "versions"
}

func (ActivationRecord) TableName() string {
	return "activation_records"
}
