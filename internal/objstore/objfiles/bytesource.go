package objfiles

import (
	"io"

	"github.com/xspvault/xspcore/internal/objstore/versionfile"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// ByteSource reads one version's logical byte stream (spec §4.L: byte
// source proxies expose read/seek/get_size/get_position).
type ByteSource interface {
	io.Reader
	Seek(offset int64, whence int) (int64, error)
	GetSize() (uint64, error)
	GetPosition() uint64
}

// versionSource adapts a versionfile.Handle into a ByteSource with its own
// read cursor.
type versionSource struct {
	h        *versionfile.Handle
	position uint64
	size     uint64
}

func newVersionSource(h *versionfile.Handle) *versionSource {
	layout := h.Layout()
	return &versionSource{h: h, size: layout.TotalSize()}
}

func (s *versionSource) Read(p []byte) (int, error) {
	if s.position >= s.size {
		return 0, io.EOF
	}
	want := uint64(len(p))
	remaining := s.size - s.position
	if want > remaining {
		want = remaining
	}
	data, err := s.h.ReadSegs(s.position, want)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	s.position += uint64(n)
	return n, nil
}

func (s *versionSource) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.position) + offset
	case io.SeekEnd:
		newPos = int64(s.size) + offset
	default:
		return 0, xerrors.InvalidNumInBody("unknown seek whence")
	}
	if newPos < 0 {
		return 0, xerrors.InvalidNumInBody("negative seek result")
	}
	s.position = uint64(newPos)
	return newPos, nil
}

func (s *versionSource) GetSize() (uint64, error) { return s.size, nil }
func (s *versionSource) GetPosition() uint64       { return s.position }
