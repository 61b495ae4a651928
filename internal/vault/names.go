package vault

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const snapshotExt = ".snap"

// validateName rejects names that would escape the vault layout.
func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

func versionFile(version int64) string {
	return strconv.FormatInt(version, 10) + snapshotExt
}

// parseVersionFile returns the version encoded in a "<version>.snap" file name.
func parseVersionFile(file string) (int64, bool) {
	base := path.Base(file)
	if !strings.HasSuffix(base, snapshotExt) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(base, snapshotExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
