package hub

import "io"

// SnapshotInfo describes one stored snapshot version.
type SnapshotInfo struct {
	Name    string
	Version int64
	Size    int64
}

// Vault stores serialized snapshot documents.
// All operations use io.Reader/io.Writer so large snapshots stream through.
type Vault interface {
	// PutSnapshot stores a snapshot version under name.
	// size is the number of bytes that will be read from r.
	PutSnapshot(name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the requested version of a snapshot to w.
	GetSnapshot(name string, version int64, w io.Writer) error

	// LatestVersion returns the highest stored version of name.
	// The bool is false when nothing has been stored under name.
	LatestVersion(name string) (int64, bool, error)

	// ListSnapshots returns every stored version, ordered by name then version.
	ListSnapshots() ([]SnapshotInfo, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
