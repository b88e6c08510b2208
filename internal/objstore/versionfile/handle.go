package versionfile

import (
	"io"
	"os"
	"sync"

	"github.com/xspvault/xspcore/internal/objstore/byteutil"
	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// Handle is one open version file. All mutating operations serialize
// through mu, the same single-writer-per-object idiom the teacher's
// write buffer uses (internal/buffer manager) generalized from "one
// writer per in-memory buffer" to "one writer per on-disk version file".
type Handle struct {
	mu   sync.Mutex
	f    *os.File
	path string

	layout      *Layout
	writeCursor int64 // next free byte for payload or trailer
}

// CreateNew creates a brand-new, empty version file at path. The file is
// left without a valid trailer (layout_offset field is zero) until the
// first SaveHeader/SaveSegs call with saveLayout=true commits one; a crash
// before that point leaves IsComplete()==false and open attempts must fail
// (spec §4.B: layout_offset==0 signals "incomplete").
func CreateNew(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil, xerrors.AlreadyExists(xerrors.KindStorage, path)
		}
		return nil, xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "create version file").
			WithPath(path, 0).WithCause(err)
	}

	head := make([]byte, headerLen)
	copy(head[:magicLen], Magic)
	// layout offset left as zero: "incomplete" sentinel.
	if _, err := f.WriteAt(head, 0); err != nil {
		f.Close()
		return nil, xerrors.ObjFileParsing(path, "writing magic header").WithCause(err)
	}

	return &Handle{
		f:           f,
		path:        path,
		layout:      &Layout{},
		writeCursor: headerLen,
	}, nil
}

// OpenExisting opens a previously-completed version file, parses its
// trailer, and discards any stale bytes left behind by an interrupted
// write (spec §4.B crash model, step (2)'s truncate, applied opportunistically
// on open so recovery doesn't have to wait for the next mutation).
func OpenExisting(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o640)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.NotFound(xerrors.KindStorage, path)
		}
		return nil, xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "open version file").
			WithPath(path, 0).WithCause(err)
	}

	h, err := parseExisting(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

func parseExisting(f *os.File, path string) (*Handle, error) {
	head := make([]byte, headerLen)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, xerrors.ObjFileParsing(path, "truncated header").WithCause(err)
	}
	if string(head[:magicLen]) != Magic {
		return nil, xerrors.ObjFileParsing(path, "bad magic")
	}
	layoutOffset := byteutil.Uint64(head[magicLen:])
	if layoutOffset == 0 {
		return nil, xerrors.ObjFileParsing(path, "incomplete file: no committed layout")
	}

	info, err := f.Stat()
	if err != nil {
		return nil, xerrors.ObjFileParsing(path, "stat failed").WithCause(err)
	}
	fileSize := uint64(info.Size())
	if layoutOffset >= fileSize {
		return nil, xerrors.ObjFileParsing(path, "layout offset past end of file")
	}

	trailerBuf := make([]byte, fileSize-layoutOffset)
	if _, err := f.ReadAt(trailerBuf, int64(layoutOffset)); err != nil && err != io.EOF {
		return nil, xerrors.ObjFileParsing(path, "reading trailer").WithCause(err)
	}

	layout, consumed, err := decodeLayout(path, trailerBuf)
	if err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	trailerEnd := layoutOffset + uint64(consumed)
	if trailerEnd != fileSize {
		// Stale tail from an interrupted write that never got to commit
		// its own trailer; reclaim it now rather than waiting for the
		// next mutation (spec §4.B, S6).
		if err := f.Truncate(int64(trailerEnd)); err != nil {
			return nil, xerrors.ObjFileParsing(path, "truncating stale tail").WithCause(err)
		}
	}

	return &Handle{
		f:           f,
		path:        path,
		layout:      layout,
		writeCursor: int64(trailerEnd),
	}, nil
}

// Path returns the handle's current on-disk path.
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// IsComplete reports whether the layout's FileComplete flag is set (the
// write has a known, final length and every byte is accounted for).
func (h *Handle) IsComplete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.layout.FileComplete
}

// Layout returns a copy of the handle's current in-memory layout.
func (h *Handle) Layout() *Layout {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.layout.Clone()
}

// SaveHeader appends header bytes to the payload and records their
// location. If saveLayout is true the trailer is rewritten and committed
// before returning.
func (h *Handle) SaveHeader(data []byte, saveLayout bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset := h.writeCursor
	if _, err := h.f.WriteAt(data, offset); err != nil {
		return xerrors.ObjFileParsing(h.path, "writing header bytes").WithCause(err)
	}
	h.writeCursor += int64(len(data))

	h.layout.HeaderPresent = true
	h.layout.Header = &HeaderChunk{Length: uint32(len(data)), FileOffset: uint64(offset)}

	if saveLayout {
		return h.commitTrailerLocked()
	}
	return nil
}

// SegWrite describes one segment-chunk write for SaveSegs.
type SegWrite struct {
	Data          []byte
	ThisVerOffset uint64
	// BaseVerOffset, if BaseVerOffsetPresent, marks the written bytes as
	// base-on-disk (copied in from the base version) rather than new.
	BaseVerOffset        uint64
	BaseVerOffsetPresent bool
}

// SaveSegs appends one segment's bytes to the payload, replacing any
// existing chunk that covers the same this-version range (e.g. turning a
// previously-declared placeholder into a resident chunk), then optionally
// commits the trailer.
func (h *Handle) SaveSegs(w SegWrite, saveLayout bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset := h.writeCursor
	if _, err := h.f.WriteAt(w.Data, offset); err != nil {
		return xerrors.ObjFileParsing(h.path, "writing segment bytes").WithCause(err)
	}
	h.writeCursor += int64(len(w.Data))

	chunk := SegmentChunk{
		ThisVerOffset:        w.ThisVerOffset,
		Length:                uint64(len(w.Data)),
		FileOffset:            uint64(offset),
		FileOffsetPresent:     true,
		BaseVerOffset:         w.BaseVerOffset,
		BaseVerOffsetPresent:  w.BaseVerOffsetPresent,
	}
	h.replaceSegmentLocked(chunk)

	if saveLayout {
		return h.commitTrailerLocked()
	}
	return nil
}

// DeclareSegment records a segment chunk without writing any bytes for it
// (a "new" or "base" placeholder: known range, not yet resident). Used by
// callers building up a version's shape before the bytes themselves land.
func (h *Handle) DeclareSegment(chunk SegmentChunk, saveLayout bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replaceSegmentLocked(chunk)
	if saveLayout {
		return h.commitTrailerLocked()
	}
	return nil
}

func (h *Handle) replaceSegmentLocked(chunk SegmentChunk) {
	for i, s := range h.layout.Segments {
		if s.ThisVerOffset == chunk.ThisVerOffset {
			h.layout.Segments[i] = chunk
			return
		}
	}
	h.layout.Segments = append(h.layout.Segments, chunk)
}

// SetSegsLayout replaces the handle's entire segment list in one step and
// sets SegmentsFrozen; a second SetSegsLayout call then fails. SaveSegs and
// DeclareSegment do not consult the frozen flag: they replace the chunk at a
// matching ThisVerOffset or append a new one.
func (h *Handle) SetSegsLayout(segs []SegmentChunk, saveLayout bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.layout.SegmentsFrozen {
		return xerrors.ObjFileParsing(h.path, "segment layout already frozen")
	}
	candidate := h.layout.Clone()
	candidate.Segments = append([]SegmentChunk(nil), segs...)
	if err := candidate.Validate(); err != nil {
		return err
	}
	h.layout.Segments = candidate.Segments
	h.layout.SegmentsFrozen = true

	if saveLayout {
		return h.commitTrailerLocked()
	}
	return nil
}

// MarkComplete sets FileComplete, meaning the write has a final, known
// length (no remaining endless segment) and the trailer is committed.
func (h *Handle) MarkComplete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.layout.Segments {
		if s.Endless {
			return xerrors.ObjFileParsing(h.path, "cannot complete: endless segment still open")
		}
	}
	h.layout.FileComplete = true
	h.layout.TotalSizeUnknown = false
	return h.commitTrailerLocked()
}

// ReadHeader returns the header bytes, or nil if none are present.
func (h *Handle) ReadHeader() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.layout.HeaderPresent {
		return nil, nil
	}
	buf := make([]byte, h.layout.Header.Length)
	if _, err := h.f.ReadAt(buf, int64(h.layout.Header.FileOffset)); err != nil {
		return nil, xerrors.ObjFileParsing(h.path, "reading header bytes").WithCause(err)
	}
	return buf, nil
}

// ReadSegs reads [offset, offset+length) of this version's logical byte
// stream. Every covering chunk must be resident (FileOffsetPresent); a
// chunk still referencing the base version returns an error, since
// resolving that reference is AbsorbBase's job.
func (h *Handle) ReadSegs(offset, length uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]byte, 0, length)
	remaining := length
	cur := offset
	segs := append([]SegmentChunk(nil), h.layout.Segments...)
	sortSegments(segs)

	for remaining > 0 {
		seg, ok := findCovering(segs, cur)
		if !ok {
			return nil, xerrors.ObjFileParsing(h.path, "no chunk covers requested range")
		}
		if !seg.FileOffsetPresent {
			return nil, xerrors.New(xerrors.KindStorage, xerrors.CodeObjFileParsing, "segment not resident").
				WithContext("offset", itoa(cur))
		}
		within := cur - seg.ThisVerOffset
		avail := seg.Length - within
		take := remaining
		if avail < take {
			take = avail
		}
		buf := make([]byte, take)
		if _, err := h.f.ReadAt(buf, int64(seg.FileOffset+within)); err != nil {
			return nil, xerrors.ObjFileParsing(h.path, "reading segment bytes").WithCause(err)
		}
		out = append(out, buf...)
		cur += take
		remaining -= take
	}
	return out, nil
}

func findCovering(segs []SegmentChunk, offset uint64) (SegmentChunk, bool) {
	for _, s := range segs {
		if offset < s.ThisVerOffset {
			continue
		}
		if s.Endless || offset < s.End() {
			return s, true
		}
	}
	return SegmentChunk{}, false
}

// StreamHeaderInto writes the header bytes to w.
func (h *Handle) StreamHeaderInto(w io.Writer) error {
	data, err := h.ReadHeader()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	_, err = w.Write(data)
	return err
}

// StreamSegsInto writes [offset, offset+length) to w in chunks of at most
// 64 KiB; each chunk is read through ReadSegs into a freshly allocated
// buffer.
func (h *Handle) StreamSegsInto(w io.Writer, offset, length uint64) error {
	const chunkSize = 64 * 1024
	remaining := length
	cur := offset
	for remaining > 0 {
		take := remaining
		if take > chunkSize {
			take = chunkSize
		}
		buf, err := h.ReadSegs(cur, take)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		cur += take
		remaining -= take
	}
	return nil
}

// BaseSource supplies bytes from a base version during AbsorbBase, read
// from an already-open handle on that version's file.
type BaseSource interface {
	ReadSegs(offset, length uint64) ([]byte, error)
}

// AbsorbBase copies into this version's file every byte that is still
// only referenced (not resident) against the given base version, then
// marks AllBaseBytesResident once nothing remains outstanding. Safe to
// retry after a crash: the copied chunks are committed to the trailer only
// by the single commit at the end, so a retry redoes every chunk that the
// last committed trailer still lists as non-resident.
func (h *Handle) AbsorbBase(baseVersion objid.Version, base BaseSource) error {
	h.mu.Lock()
	pending := make([]SegmentChunk, 0)
	for _, s := range h.layout.Segments {
		if s.BaseVerOffsetPresent && !s.FileOffsetPresent {
			pending = append(pending, s)
		}
	}
	h.mu.Unlock()

	for _, s := range pending {
		data, err := base.ReadSegs(s.BaseVerOffset, s.Length)
		if err != nil {
			return err
		}
		if err := h.SaveSegs(SegWrite{
			Data:                 data,
			ThisVerOffset:        s.ThisVerOffset,
			BaseVerOffset:        s.BaseVerOffset,
			BaseVerOffsetPresent: true,
		}, false); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	allResident := true
	for _, s := range h.layout.Segments {
		if s.BaseVerOffsetPresent && !s.FileOffsetPresent {
			allResident = false
			break
		}
	}
	h.layout.BasePresent = true
	h.layout.BaseVersion = baseVersion
	h.layout.AllBaseBytesResident = allResident
	return h.commitTrailerLocked()
}

// DiffFromBase returns the this-version byte ranges that are NOT simply
// references into the base version, i.e. the genuinely new content of
// this version relative to base (spec §3 "absorb_base"/"diff_from_base").
func (h *Handle) DiffFromBase() []SegmentChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []SegmentChunk
	for _, s := range h.layout.Segments {
		if !s.BaseVerOffsetPresent {
			out = append(out, s)
		}
	}
	return out
}

// commitTrailerLocked implements the two-step crash-safe rewrite (spec
// §4.B): write the new trailer at the current write cursor, fsync, flip
// the 8-byte layout-offset field, fsync again, then truncate the file at
// the new trailer's end, dropping any stale bytes past it (the old trailer
// is never overwritten; it is left behind as dead bytes preceding the new
// one). Caller holds h.mu.
func (h *Handle) commitTrailerLocked() error {
	trailer := h.layout.encode()
	newOffset := h.writeCursor

	if _, err := h.f.WriteAt(trailer, newOffset); err != nil {
		return xerrors.ObjFileParsing(h.path, "writing trailer").WithCause(err)
	}
	if err := h.f.Sync(); err != nil {
		return xerrors.ObjFileParsing(h.path, "fsync trailer").WithCause(err)
	}

	var offsetField [layoutOffsetLen]byte
	byteutil.PutUint64(offsetField[:], uint64(newOffset))
	if _, err := h.f.WriteAt(offsetField[:], magicLen); err != nil {
		return xerrors.ObjFileParsing(h.path, "writing layout offset field").WithCause(err)
	}
	if err := h.f.Sync(); err != nil {
		return xerrors.ObjFileParsing(h.path, "fsync layout offset").WithCause(err)
	}

	newEnd := newOffset + int64(len(trailer))
	if err := h.f.Truncate(newEnd); err != nil {
		return xerrors.ObjFileParsing(h.path, "truncating stale tail").WithCause(err)
	}
	h.writeCursor = newEnd
	return nil
}

// MoveFile renames the version file to newPath, keeping the handle open
// against its new location.
func (h *Handle) MoveFile(newPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Rename(h.path, newPath); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "move version file").
			WithPath(h.path, 0).WithCause(err)
	}
	h.path = newPath
	return nil
}

// RemoveFile closes and deletes the version file.
func (h *Handle) RemoveFile() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.f.Close()
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "remove version file").
			WithPath(h.path, 0).WithCause(err)
	}
	return nil
}

// Close releases the underlying file descriptor without removing data.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f.Close()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
