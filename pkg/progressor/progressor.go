package progressor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formflow/pkg/logger"
	"formflow/pkg/store"
)

const (
	versionKey    = "version"
	inProgressKey = "migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for migration logic.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("progressor_sync_start", "from", from, "to", to)

	// Migration: backfill Form.FieldCount for forms written before the
	// count was recorded. Idempotent and safe to run multiple times.
	forms, err := store.ListForms()
	if err != nil {
		logger.Error("progressor_list_forms_failed", "error", err)
		return err
	}
	for _, f := range forms {
		if f.FieldCount != 0 {
			continue
		}
		fields, err := store.ListFields(f.Key)
		if err != nil {
			logger.Error("progressor_list_fields_failed", "form", f.Key, "error", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		f.FieldCount = len(fields)
		if err := store.SaveForm(f, fields); err != nil {
			logger.Error("progressor_save_form_failed", "form", f.Key, "error", err)
			continue
		}
		logger.Info("progressor_form_fieldcount_backfilled", "form", f.Key, "fields", len(fields))
	}

	logger.Info("progressor_sync_done", "from", from, "to", to)
	return nil
}

// Run checks for a version change and runs Sync if needed.
// Returns (invoked, error): invoked is true if Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored, err := store.GetMeta(versionKey)
	if err != nil {
		logger.Error("progressor_read_version_failed", "error", err)
		return false, err
	}
	logger.Info("progressor_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		logger.Info("progressor_noop", "version", newVersion)
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.SetMeta(inProgressKey, string(mb)); err != nil {
		logger.Error("progressor_write_inprogress_failed", "error", err)
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	logger.Info("progressor_start_sync", "from", stored, "to", newVersion)
	if err := Sync(ctx, stored, newVersion); err != nil {
		logger.Error("progressor_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := store.SetMeta(versionKey, newVersion); err != nil {
		logger.Error("progressor_persist_version_failed", "version", newVersion, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := store.DeleteMeta(inProgressKey); err != nil {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}

	logger.Info("progressor_version_persisted", "version", newVersion)
	return true, nil
}
