package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveJSONAtomic marshals v and durably persists it to path: write to a
// temp file in the same directory, chmod, fsync, close, then
// rename over the destination. A crash between write and rename leaves the
// previous file intact; a crash after rename leaves the new one intact.
func SaveJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

// LoadJSON reads and unmarshals path into v. A missing file is not an
// error — callers should treat it as "start empty". A corrupt file is
// also swallowed (returns ok=false) so a damaged on-disk record never
// blocks process startup; the caller logs and starts empty.
func LoadJSON(path string, v interface{}) (ok bool, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, nil
		}
		return false, readErr
	}
	if unmarshalErr := json.Unmarshal(data, v); unmarshalErr != nil {
		return false, nil
	}
	return true, nil
}
