package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hubsync/internal/hub"
)

// exerciseVault runs the behavior every Vault implementation shares.
func exerciseVault(t *testing.T, v hub.Vault) {
	t.Helper()

	t.Run("empty vault", func(t *testing.T) {
		_, ok, err := v.LatestVersion("daily")
		if err != nil {
			t.Fatalf("LatestVersion() error = %v", err)
		}
		if ok {
			t.Error("LatestVersion() ok = true on empty vault")
		}
		var buf bytes.Buffer
		if err := v.GetSnapshot("daily", 1, &buf); !errors.Is(err, hub.ErrNotFound) {
			t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put and get versions", func(t *testing.T) {
		docs := map[int64]string{
			100: `{"v":1}`,
			300: `{"v":3}`,
			200: strings.Repeat("x", 10000),
		}
		for version, doc := range docs {
			if err := v.PutSnapshot("daily", strings.NewReader(doc), int64(len(doc)), version); err != nil {
				t.Fatalf("PutSnapshot(%d) error = %v", version, err)
			}
		}
		if err := v.PutSnapshot("weekly", strings.NewReader("w"), 1, 50); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}

		for version, doc := range docs {
			var buf bytes.Buffer
			if err := v.GetSnapshot("daily", version, &buf); err != nil {
				t.Fatalf("GetSnapshot(%d) error = %v", version, err)
			}
			if buf.String() != doc {
				t.Errorf("GetSnapshot(%d) = %d bytes, want %d", version, buf.Len(), len(doc))
			}
		}

		latest, ok, err := v.LatestVersion("daily")
		if err != nil {
			t.Fatalf("LatestVersion() error = %v", err)
		}
		if !ok || latest != 300 {
			t.Errorf("LatestVersion() = %d, %v; want 300, true", latest, ok)
		}

		infos, err := v.ListSnapshots()
		if err != nil {
			t.Fatalf("ListSnapshots() error = %v", err)
		}
		want := []hub.SnapshotInfo{
			{Name: "daily", Version: 100, Size: 7},
			{Name: "daily", Version: 200, Size: 10000},
			{Name: "daily", Version: 300, Size: 7},
			{Name: "weekly", Version: 50, Size: 1},
		}
		if diff := cmp.Diff(want, infos); diff != "" {
			t.Errorf("ListSnapshots() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		if err := v.PutSnapshot("bad", strings.NewReader("short"), 100, 1); err == nil {
			t.Error("PutSnapshot() expected size mismatch error, got nil")
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		if err := v.PutSnapshot("../escape", strings.NewReader("x"), 1, 1); err == nil {
			t.Error("PutSnapshot() expected error for path name, got nil")
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
