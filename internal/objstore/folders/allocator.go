package folders

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// accessBucketName is the hot-tier directory (spec §8 example:
// "folder_for(...) returns a path under objs/").
const accessBucketName = "objs"

func bucketDirName(generation int) string {
	if generation == 0 {
		return accessBucketName
	}
	return accessBucketName + "-gen" + itoa(generation)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Allocator is one namespace's sharded object folder tree: an access
// bucket plus zero or more colder generational buckets, with
// per-first-shard serialization (spec §4.C).
type Allocator struct {
	root string
	cfg  Config

	shardLocks sync.Map // map[string]*sync.Mutex, keyed by first shard section
}

// NewAllocator builds an allocator rooted at root using cfg. root must
// already exist; bucket directories are created lazily.
func NewAllocator(root string, cfg Config) *Allocator {
	return &Allocator{root: root, cfg: cfg}
}

func (a *Allocator) lockFor(firstShard string) func() {
	v, _ := a.shardLocks.LoadOrStore(firstShard, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (a *Allocator) bucketCount() int {
	return len(a.cfg.Generations) + 1
}

func (a *Allocator) pathFor(generation int, sections []string) string {
	parts := append([]string{a.root, bucketDirName(generation)}, sections...)
	return filepath.Join(parts...)
}

// FolderFor resolves (and optionally creates) the folder for obj_id,
// promoting it to the access bucket if it is currently in a colder
// generation (spec §4.C). Returns NotFound if the folder does not exist
// and createIfMissing is false.
func (a *Allocator) FolderFor(id objid.ID, createIfMissing bool) (string, error) {
	sections := objid.ShardSections(id, a.cfg.NumOfSplits, a.cfg.CharsInSplit)

	if id.IsRoot() {
		path := a.pathFor(0, sections)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return "", xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "create root folder").
				WithPath(path, 0).WithCause(err)
		}
		return path, nil
	}

	unlock := a.lockFor(sections[0])
	defer unlock()

	accessPath := a.pathFor(0, sections)
	if dirExists(accessPath) {
		return accessPath, nil
	}

	for gen := 1; gen < a.bucketCount(); gen++ {
		coldPath := a.pathFor(gen, sections)
		if !dirExists(coldPath) {
			continue
		}
		if err := a.promoteLocked(coldPath, accessPath, sections); err != nil {
			return "", err
		}
		return accessPath, nil
	}

	if !createIfMissing {
		return "", xerrors.NotFound(xerrors.KindStorage, accessPath)
	}

	if err := os.MkdirAll(filepath.Dir(accessPath), 0o750); err != nil {
		return "", xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "create intermediate shards").
			WithPath(accessPath, 0).WithCause(err)
	}
	if err := os.Mkdir(accessPath, 0o750); err != nil {
		if os.IsExist(err) {
			return "", xerrors.AlreadyExists(xerrors.KindStorage, accessPath)
		}
		return "", xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "create object folder").
			WithPath(accessPath, 0).WithCause(err)
	}
	return accessPath, nil
}

// promoteLocked moves srcPath (an existing leaf folder in a colder bucket)
// to dstPath (the access bucket), creating missing intermediate shards at
// the destination and removing newly-empty intermediate shards at the
// source. Caller must hold the first-shard lock.
func (a *Allocator) promoteLocked(srcPath, dstPath string, sections []string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "create destination shards").
			WithPath(dstPath, 0).WithCause(err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "promote object folder").
			WithPath(srcPath, 0).WithCause(err)
	}
	a.pruneEmptyIntermediatesFrom(filepath.Dir(srcPath), sections[:len(sections)-1])
	return nil
}

// pruneEmptyIntermediatesFrom removes dir, then its parent, and so on,
// stopping at the first non-empty directory or the bucket root. sections
// bounds how far up we're allowed to walk (never past the bucket root).
func (a *Allocator) pruneEmptyIntermediatesFrom(dir string, intermediateSections []string) {
	for range intermediateSections {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// RemoveFolder deletes the leaf subtree for obj_id wherever it currently
// lives, then prunes newly-empty intermediate shards (spec §4.C).
func (a *Allocator) RemoveFolder(id objid.ID) error {
	sections := objid.ShardSections(id, a.cfg.NumOfSplits, a.cfg.CharsInSplit)
	unlock := a.lockFor(sections[0])
	defer unlock()

	for gen := 0; gen < a.bucketCount(); gen++ {
		path := a.pathFor(gen, sections)
		if !dirExists(path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "remove object folder").
				WithPath(path, 0).WithCause(err)
		}
		a.pruneEmptyIntermediatesFrom(filepath.Dir(path), sections[:len(sections)-1])
		return nil
	}
	return xerrors.NotFound(xerrors.KindStorage, a.pathFor(0, sections))
}

// Recent is one entry returned by ListRecent.
type Recent struct {
	Path  string
	ObjID objid.ID
}

// ListRecent enumerates every leaf folder currently in the access bucket
// (spec §4.C: "enumerates the access bucket only").
func (a *Allocator) ListRecent() ([]Recent, error) {
	bucketRoot := filepath.Join(a.root, bucketDirName(0))
	depth := a.cfg.NumOfSplits + 1
	leaves, err := walkLeaves(bucketRoot, depth)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "list recent objects").
			WithPath(bucketRoot, 0).WithCause(err)
	}

	out := make([]Recent, 0, len(leaves))
	for _, l := range leaves {
		if len(l.sections) == 1 && l.sections[0] == objid.RootSentinel {
			out = append(out, Recent{Path: l.path, ObjID: objid.ID("")})
			continue
		}
		id := objid.ID(joinSections(l.sections))
		out = append(out, Recent{Path: l.path, ObjID: id})
	}
	return out, nil
}

func joinSections(sections []string) string {
	out := ""
	for _, s := range sections {
		out += s
	}
	return out
}

type leafEntry struct {
	path     string
	sections []string
}

// walkLeaves descends exactly depth levels from root, collecting every
// directory found at that depth along with the path sections that led
// there.
func walkLeaves(root string, depth int) ([]leafEntry, error) {
	if depth <= 0 {
		return []leafEntry{{path: root}}, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []leafEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if depth == 1 {
			out = append(out, leafEntry{path: filepath.Join(root, e.Name()), sections: []string{e.Name()}})
			continue
		}
		sub, err := walkLeaves(filepath.Join(root, e.Name()), depth-1)
		if err != nil {
			return nil, err
		}
		for _, s := range sub {
			out = append(out, leafEntry{path: s.path, sections: append([]string{e.Name()}, s.sections...)})
		}
	}
	return out, nil
}

// CanMoveFunc decides whether an object is eligible for rotation into the
// next colder generation.
type CanMoveFunc func(id objid.ID, path string) bool

// Rotate runs the periodic cold-storage rotation (spec §4.C "Optional
// rotate()"): for every generation whose period has elapsed since it was
// last run, move eligible objects from the previous bucket into it.
func (a *Allocator) Rotate(now time.Time, canMove CanMoveFunc) error {
	for i := range a.cfg.Generations {
		gen := &a.cfg.Generations[i]
		elapsed := now.Unix() - gen.LastDoneUnix
		if elapsed < gen.PeriodSeconds {
			continue
		}
		if err := a.rotateGeneration(i, canMove); err != nil {
			return err
		}
		gen.LastDoneUnix = now.Unix()
	}
	return nil
}

func (a *Allocator) rotateGeneration(genIndex int, canMove CanMoveFunc) error {
	srcGen := genIndex // 0 == access bucket, matching spec's "bucket k-1 (or access bucket for k==0)"
	dstGen := genIndex + 1

	srcRoot := filepath.Join(a.root, bucketDirName(srcGen))
	depth := a.cfg.NumOfSplits + 1
	leaves, err := walkLeaves(srcRoot, depth)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "rotate: list source bucket").
			WithPath(srcRoot, 0).WithCause(err)
	}

	sort.Slice(leaves, func(i, j int) bool { return leaves[i].path < leaves[j].path })

	for _, l := range leaves {
		id := objid.ID(joinSections(l.sections))
		if !canMove(id, l.path) {
			continue
		}
		unlock := a.lockFor(l.sections[0])
		dstPath := a.pathFor(dstGen, l.sections)
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
			unlock()
			return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "rotate: create destination shards").
				WithPath(dstPath, 0).WithCause(err)
		}
		if err := os.Rename(l.path, dstPath); err != nil {
			unlock()
			return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "rotate: move object folder").
				WithPath(l.path, 0).WithCause(err)
		}
		a.pruneEmptyIntermediatesFrom(filepath.Dir(l.path), l.sections[:len(l.sections)-1])
		unlock()
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
