package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"hubsync/internal/hub"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// It stores each snapshot version as its own file:
//
//	<root>/
//	  snapshots/
//	    <name>/
//	      <version>.snap
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		snapshotsDir: snapshotsDir,
	}, nil
}

// PutSnapshot stores one version of a named snapshot. Writes are atomic.
func (v *FileSystemVault) PutSnapshot(name string, r io.Reader, size int64, version int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := filepath.Join(v.snapshotsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return v.writeFile(filepath.Join(dir, versionFile(version)), r, size)
}

// GetSnapshot writes the requested snapshot version to w.
func (v *FileSystemVault) GetSnapshot(name string, version int64, w io.Writer) error {
	if err := validateName(name); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(v.snapshotsDir, name, versionFile(version)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("snapshot %s version %d: %w", name, version, hub.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) LatestVersion(name string) (int64, bool, error) {
	if err := validateName(name); err != nil {
		return 0, false, err
	}
	infos, err := v.listName(name)
	if err != nil {
		return 0, false, err
	}
	if len(infos) == 0 {
		return 0, false, nil
	}
	return infos[len(infos)-1].Version, true, nil
}

func (v *FileSystemVault) ListSnapshots() ([]hub.SnapshotInfo, error) {
	entries, err := os.ReadDir(v.snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("reading vault: %w", err)
	}

	var infos []hub.SnapshotInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		named, err := v.listName(e.Name())
		if err != nil {
			return nil, err
		}
		infos = append(infos, named...)
	}
	sortInfos(infos)
	return infos, nil
}

func (v *FileSystemVault) listName(name string) ([]hub.SnapshotInfo, error) {
	entries, err := os.ReadDir(filepath.Join(v.snapshotsDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
	}

	var infos []hub.SnapshotInfo
	for _, e := range entries {
		version, ok := parseVersionFile(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		infos = append(infos, hub.SnapshotInfo{Name: name, Version: version, Size: info.Size()})
	}
	sortInfos(infos)
	return infos, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.snapshotsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file in the same directory
// followed by a rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ hub.Vault = (*FileSystemVault)(nil)
