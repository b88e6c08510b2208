package upsync

import (
	"encoding/json"

	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// Kind tags the three task variants the upsync queue carries (spec §3.4
// "Upsync queue (per object)").
type Kind string

const (
	KindUpload    Kind = "upload"
	KindRemoval   Kind = "removal"
	KindArchiving Kind = "archiving"
)

// SegRange is one pending segment byte range still owed to the remote
// side of an in-progress upload.
type SegRange struct {
	Ofs uint64 `json:"ofs"`
	Len uint64 `json:"len"`
}

// Awaiting tracks the portions of an upload task's payload that remain
// unsent: whether the header is still pending, which segment ranges are
// still pending, and whether every byte this version needs now lives on
// disk (i.e. absorb_base has finished, even if the wire transfer hasn't).
type Awaiting struct {
	Header         bool       `json:"header,omitempty"`
	Segs           []SegRange `json:"segs"`
	AllBytesOnDisk bool       `json:"allBytesOnDisk,omitempty"`
}

// UploadTask describes an in-progress or pending version upload.
type UploadTask struct {
	Version       objid.Version
	BaseVersion   objid.Version // None if this version has no base
	TransactionID string        // empty if not yet assigned
	Awaiting      *Awaiting     // nil until the first progress checkpoint
	Done          bool
}

// RemovalTask describes pending version-removal propagation. At least one
// of ArchivedVersions/CurrentVersion is set.
type RemovalTask struct {
	ArchivedVersions []objid.Version
	CurrentVersion   objid.Version // None if absent
}

// ArchivingTask describes propagation of an archive_current() call.
// ArchivalOfCurrent names the version that was current at archival time,
// None if the object had no current version to archive.
type ArchivingTask struct {
	ArchivalOfCurrent objid.Version
}

// Task is the tagged union persisted in the queue. Exactly one of
// Upload/Removal/Archiving is populated, selected by Kind.
type Task struct {
	Kind      Kind
	Upload    *UploadTask
	Removal   *RemovalTask
	Archiving *ArchivingTask
}

// NewUploadTask builds an upload-kind Task.
func NewUploadTask(t UploadTask) Task {
	cp := t
	return Task{Kind: KindUpload, Upload: &cp}
}

// NewRemovalTask builds a removal-kind Task.
func NewRemovalTask(t RemovalTask) Task {
	cp := t
	return Task{Kind: KindRemoval, Removal: &cp}
}

// NewArchivingTask builds an archiving-kind Task.
func NewArchivingTask(t ArchivingTask) Task {
	cp := t
	return Task{Kind: KindArchiving, Archiving: &cp}
}

// wireTask is the on-disk shape of a Task: one flat JSON object carrying a
// discriminant plus the fields relevant to that discriminant.
type wireTask struct {
	Type string `json:"type"`

	// upload
	Version       *uint64   `json:"version,omitempty"`
	BaseVersion   *uint64   `json:"baseVersion,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Awaiting      *Awaiting `json:"awaiting,omitempty"`
	Done          bool      `json:"done,omitempty"`

	// removal
	ArchivedVersions []uint64 `json:"archivedVersions,omitempty"`
	CurrentVersion   *uint64  `json:"currentVersion,omitempty"`

	// archiving
	ArchivalOfCurrent *uint64 `json:"archivalOfCurrent,omitempty"`
}

// MarshalJSON implements the tagged-union encoding.
func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{Type: string(t.Kind)}
	switch t.Kind {
	case KindUpload:
		u := t.Upload
		v := uint64(u.Version)
		w.Version = &v
		if !u.BaseVersion.IsNone() {
			b := uint64(u.BaseVersion)
			w.BaseVersion = &b
		}
		w.TransactionID = u.TransactionID
		w.Awaiting = u.Awaiting
		w.Done = u.Done
	case KindRemoval:
		r := t.Removal
		for _, v := range r.ArchivedVersions {
			w.ArchivedVersions = append(w.ArchivedVersions, uint64(v))
		}
		if !r.CurrentVersion.IsNone() {
			c := uint64(r.CurrentVersion)
			w.CurrentVersion = &c
		}
	case KindArchiving:
		a := t.Archiving
		if !a.ArchivalOfCurrent.IsNone() {
			v := uint64(a.ArchivalOfCurrent)
			w.ArchivalOfCurrent = &v
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the tagged-union decoding.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch Kind(w.Type) {
	case KindUpload:
		u := &UploadTask{Done: w.Done, TransactionID: w.TransactionID, Awaiting: w.Awaiting}
		if w.Version != nil {
			u.Version = objid.Version(*w.Version)
		}
		if w.BaseVersion != nil {
			u.BaseVersion = objid.Version(*w.BaseVersion)
		}
		t.Kind, t.Upload, t.Removal, t.Archiving = KindUpload, u, nil, nil
	case KindRemoval:
		r := &RemovalTask{}
		for _, v := range w.ArchivedVersions {
			r.ArchivedVersions = append(r.ArchivedVersions, objid.Version(v))
		}
		if w.CurrentVersion != nil {
			r.CurrentVersion = objid.Version(*w.CurrentVersion)
		}
		t.Kind, t.Upload, t.Removal, t.Archiving = KindRemoval, nil, r, nil
	case KindArchiving:
		a := &ArchivingTask{}
		if w.ArchivalOfCurrent != nil {
			a.ArchivalOfCurrent = objid.Version(*w.ArchivalOfCurrent)
		}
		t.Kind, t.Upload, t.Removal, t.Archiving = KindArchiving, nil, nil, a
	default:
		return xerrors.ObjFileParsing("", "unknown upsync task type").WithContext("type", w.Type)
	}
	return nil
}
