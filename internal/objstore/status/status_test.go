package status

import (
	"path/filepath"
	"testing"

	"github.com/xspvault/xspcore/pkg/objid"
)

func TestMakeNewAndSaveRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "status")
	s := MakeNew(path)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := ReadFrom(path)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.CurrentVersion != objid.Version(1) {
		t.Errorf("CurrentVersion = %d, want 1", got.CurrentVersion)
	}
}

func TestSetNewCurrentVersionTracksBase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "status")
	s := MakeNew(path)
	s.SetNewCurrentVersion(objid.Version(2), objid.Version(1))
	s.SetNewCurrentVersion(objid.Version(3), objid.Version(2))
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := ReadFrom(path)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	ng := got.GetNonGarbageVersions()
	want := map[objid.Version]bool{3: true, 2: true, 1: true}
	if len(ng.NonGarbage) != len(want) {
		t.Fatalf("non-garbage set = %v, want %v", ng.NonGarbage, want)
	}
	for v := range want {
		if !ng.NonGarbage[v] {
			t.Errorf("expected version %d in non-garbage set", v)
		}
	}
	if ng.GCMaxVer != objid.Version(4) {
		t.Errorf("GCMaxVer = %d, want 4", ng.GCMaxVer)
	}
}

func TestArchiveCurrentMovesToArchivedSet(t *testing.T) {
	t.Parallel()
	s := MakeNew(filepath.Join(t.TempDir(), "status"))
	s.ArchiveCurrent()
	if !s.Archived {
		t.Error("expected Archived to be true")
	}
	if !s.CurrentVersion.IsNone() {
		t.Error("expected CurrentVersion cleared")
	}
	if len(s.ArchivedVersions) != 1 || s.ArchivedVersions[0] != objid.Version(1) {
		t.Errorf("ArchivedVersions = %v, want [1]", s.ArchivedVersions)
	}
}

func TestSaveRemovesFileWhenEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "status")
	s := MakeNew(path)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.RemoveCurrentVersion(nil)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := ReadFrom(path); err == nil {
		t.Fatal("expected status file to be removed once empty")
	}
}

func TestRemoveCurrentVersionRespectsOpenVersions(t *testing.T) {
	t.Parallel()
	s := MakeNew(filepath.Join(t.TempDir(), "status"))
	s.RemoveCurrentVersion(map[objid.Version]bool{1: true})
	if s.CurrentVersion.IsNone() {
		t.Error("expected open current version to survive RemoveCurrentVersion")
	}
}

func TestRemoveArchivedVersion(t *testing.T) {
	t.Parallel()
	s := MakeNew(filepath.Join(t.TempDir(), "status"))
	s.ArchiveCurrent()
	s.RemoveArchivedVersion(objid.Version(1), nil)
	if len(s.ArchivedVersions) != 0 {
		t.Errorf("expected archived versions empty, got %v", s.ArchivedVersions)
	}
}
