package vault

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"hubsync/internal/hub"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps every snapshot version in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string]map[int64][]byte // name -> version -> document
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string]map[int64][]byte),
	}
}

// PutSnapshot stores one version of a named snapshot.
func (m *MemoryVault) PutSnapshot(name string, r io.Reader, size int64, version int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.snapshots[name]
	if !ok {
		versions = make(map[int64][]byte)
		m.snapshots[name] = versions
	}
	versions[version] = data
	return nil
}

// GetSnapshot writes the requested snapshot version to w.
func (m *MemoryVault) GetSnapshot(name string, version int64, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[name][version]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot %s version %d: %w", name, version, hub.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) LatestVersion(name string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest int64
		found  bool
	)
	for v := range m.snapshots[name] {
		if !found || v > latest {
			latest, found = v, true
		}
	}
	return latest, found, nil
}

func (m *MemoryVault) ListSnapshots() ([]hub.SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []hub.SnapshotInfo
	for name, versions := range m.snapshots {
		for v, data := range versions {
			infos = append(infos, hub.SnapshotInfo{Name: name, Version: v, Size: int64(len(data))})
		}
	}
	sortInfos(infos)
	return infos, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ hub.Vault = (*MemoryVault)(nil)

func sortInfos(infos []hub.SnapshotInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Version < infos[j].Version
	})
}
