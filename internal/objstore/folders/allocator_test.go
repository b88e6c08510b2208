package folders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xspvault/xspcore/pkg/objid"
)

func testConfig() Config {
	return Config{NumOfSplits: 2, CharsInSplit: 2, NonceByteLen: 24}
}

func TestFolderForCreatesUnderAccessBucket(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := NewAllocator(root, testConfig())

	id := objid.ID("abcdefghij")
	path, err := a.FolderFor(id, true)
	if err != nil {
		t.Fatalf("FolderFor: %v", err)
	}
	if !dirExists(path) {
		t.Fatalf("expected folder to exist at %s", path)
	}
	if filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(path)))) != accessBucketName {
		t.Errorf("expected path under access bucket, got %s", path)
	}
}

func TestFolderForMissingWithoutCreate(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := NewAllocator(root, testConfig())

	if _, err := a.FolderFor(objid.ID("abcdefghij"), false); err == nil {
		t.Fatal("expected NotFound for missing folder")
	}
}

func TestFolderForRootUsesSentinel(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := NewAllocator(root, testConfig())

	path, err := a.FolderFor(objid.ID(""), true)
	if err != nil {
		t.Fatalf("FolderFor(root): %v", err)
	}
	if filepath.Base(path) != objid.RootSentinel {
		t.Errorf("expected root folder named %q, got %s", objid.RootSentinel, filepath.Base(path))
	}
}

func TestFolderForPromotesFromColdBucket(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	cfg := testConfig()
	cfg.Generations = []Generation{{PeriodSeconds: 3600}}
	a := NewAllocator(root, cfg)

	id := objid.ID("ffffffffff")
	sections := objid.ShardSections(id, cfg.NumOfSplits, cfg.CharsInSplit)
	coldPath := a.pathFor(1, sections)
	if err := os.MkdirAll(coldPath, 0o750); err != nil {
		t.Fatalf("seed cold folder: %v", err)
	}

	path, err := a.FolderFor(id, false)
	if err != nil {
		t.Fatalf("FolderFor: %v", err)
	}
	if dirExists(coldPath) {
		t.Error("expected cold bucket folder to be gone after promotion")
	}
	accessPath := a.pathFor(0, sections)
	if path != accessPath {
		t.Errorf("path = %s, want %s", path, accessPath)
	}
	if !dirExists(accessPath) {
		t.Error("expected folder to exist under access bucket after promotion")
	}
}

func TestRemoveFolderPrunesEmptyIntermediates(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := NewAllocator(root, testConfig())

	id := objid.ID("abcdefghij")
	if _, err := a.FolderFor(id, true); err != nil {
		t.Fatalf("FolderFor: %v", err)
	}
	if err := a.RemoveFolder(id); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}

	bucketRoot := filepath.Join(root, accessBucketName)
	entries, err := os.ReadDir(bucketRoot)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected bucket root empty after removal, got %v", entries)
	}
}

func TestListRecentReconstructsObjID(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := NewAllocator(root, testConfig())

	ids := []objid.ID{"abcdefghij", "zzyyxxwwvv"}
	for _, id := range ids {
		if _, err := a.FolderFor(id, true); err != nil {
			t.Fatalf("FolderFor(%s): %v", id, err)
		}
	}

	recents, err := a.ListRecent()
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recents) != len(ids) {
		t.Fatalf("got %d entries, want %d", len(recents), len(ids))
	}
	seen := map[objid.ID]bool{}
	for _, r := range recents {
		seen[r.ObjID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("expected %s in ListRecent output", id)
		}
	}
}

func TestRotateMovesEligibleObjects(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	cfg := testConfig()
	cfg.Generations = []Generation{{PeriodSeconds: 0, LastDoneUnix: 0}}
	a := NewAllocator(root, cfg)

	id := objid.ID("abcdefghij")
	if _, err := a.FolderFor(id, true); err != nil {
		t.Fatalf("FolderFor: %v", err)
	}

	now := time.Unix(10000, 0)
	if err := a.Rotate(now, func(objid.ID, string) bool { return true }); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	sections := objid.ShardSections(id, cfg.NumOfSplits, cfg.CharsInSplit)
	if dirExists(a.pathFor(0, sections)) {
		t.Error("expected object to be moved out of access bucket")
	}
	if !dirExists(a.pathFor(1, sections)) {
		t.Error("expected object to land in generation-1 bucket")
	}
	if a.cfg.Generations[0].LastDoneUnix != now.Unix() {
		t.Errorf("LastDoneUnix not updated: got %d, want %d", a.cfg.Generations[0].LastDoneUnix, now.Unix())
	}
}

func TestRotateSkipsIneligibleObjects(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	cfg := testConfig()
	cfg.Generations = []Generation{{PeriodSeconds: 0}}
	a := NewAllocator(root, cfg)

	id := objid.ID("abcdefghij")
	if _, err := a.FolderFor(id, true); err != nil {
		t.Fatalf("FolderFor: %v", err)
	}

	if err := a.Rotate(time.Unix(1, 0), func(objid.ID, string) bool { return false }); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	sections := objid.ShardSections(id, cfg.NumOfSplits, cfg.CharsInSplit)
	if !dirExists(a.pathFor(0, sections)) {
		t.Error("expected ineligible object to remain in access bucket")
	}
}
