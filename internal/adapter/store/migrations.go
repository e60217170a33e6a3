package store

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"imgsearch/internal/domain"
)

// CurrentSchemaVersion is the current storage format version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// SchemaVersion returns the storage format version recorded in the file.
// A fresh file reports 0.
func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keySchemaVersion)
		if len(data) == 8 {
			version = int(binary.BigEndian.Uint64(data))
		}
		return nil
	})
	return version, err
}

func (s *BoltStore) setSchemaVersion(version int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(version))
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, buf)
	})
}

// CheckMigration reports whether the file needs an upgrade.
// A file written by a newer version cannot be opened.
func (s *BoltStore) CheckMigration() (*MigrationResult, error) {
	version, err := s.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %v: %w", err, domain.ErrStore)
	}

	result := &MigrationResult{
		OldVersion: version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", version, CurrentSchemaVersion)
	case version > CurrentSchemaVersion:
		return nil, fmt.Errorf("database created by newer version (v%d > v%d): %w",
			version, CurrentSchemaVersion, domain.ErrConfig)
	}

	return result, nil
}

// Migrate performs any necessary schema migrations.
func (s *BoltStore) Migrate() error {
	result, err := s.CheckMigration()
	if err != nil {
		return err
	}
	if !result.NeedsMigration {
		return nil
	}

	for v := result.OldVersion; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %v: %w", v, v+1, err, domain.ErrStore)
		}
	}

	if err := s.setSchemaVersion(CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %v: %w", err, domain.ErrStore)
	}
	return nil
}

// runMigration runs a specific version migration.
func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		// v1 is the initial layout; buckets are created on open.
		return nil
	default:
		return nil
	}
}
