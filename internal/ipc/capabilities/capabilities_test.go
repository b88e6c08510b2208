package capabilities

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xspvault/xspcore/internal/circuit"
	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/connector"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/internal/remote"
	"github.com/xspvault/xspcore/pkg/retry"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// memSource is a trivial in-memory ByteSourceBackend for testing.
type memSource struct {
	data []byte
	pos  uint64
}

func (m *memSource) Read(ofs, length uint64) ([]byte, error) {
	if ofs+length > uint64(len(m.data)) {
		return nil, xerrors.EndOfFile()
	}
	return m.data[ofs : ofs+length], nil
}
func (m *memSource) Seek(pos uint64) error    { m.pos = pos; return nil }
func (m *memSource) GetSize() (uint64, error) { return uint64(len(m.data)), nil }
func (m *memSource) GetPosition() (uint64, error) { return m.pos, nil }

type memSink struct {
	data []byte
}

func (m *memSink) Splice(ofs uint64, data []byte) error {
	if ofs+uint64(len(data)) > uint64(len(m.data)) {
		grown := make([]byte, ofs+uint64(len(data)))
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[ofs:], data)
	return nil
}
func (m *memSink) Truncate(size uint64) error { m.data = m.data[:size]; return nil }
func (m *memSink) Done() error                { return nil }
func (m *memSink) ShowLayout() ([]byte, error) { return []byte("layout"), nil }
func (m *memSink) GetSize() (uint64, error)    { return uint64(len(m.data)), nil }

type memFilesystem struct {
	objects map[string]*memSource
}

func (f *memFilesystem) Stat(objID string) (FileInfo, error) {
	src, ok := f.objects[objID]
	if !ok {
		return FileInfo{}, xerrors.NotFound(xerrors.KindFile, objID)
	}
	return FileInfo{ObjID: objID, HasCurrent: true, CurrentVersion: uint64(len(src.data))}, nil
}
func (f *memFilesystem) OpenSource(objID string, version uint64) (ByteSourceBackend, error) {
	src, ok := f.objects[objID]
	if !ok {
		return nil, xerrors.NotFound(xerrors.KindFile, objID)
	}
	return src, nil
}
func (f *memFilesystem) OpenSink(objID string) (ByteSinkBackend, error) {
	sink := &memSink{}
	f.objects[objID] = &memSource{data: sink.data}
	return sink, nil
}
func (f *memFilesystem) Remove(objID string) error {
	delete(f.objects, objID)
	return nil
}

// wireUp builds a connected client/service pair over in-memory pipes and
// returns the client, the service, and a teardown func.
func wireUp(t *testing.T) (*client.Client, *service.Service, func()) {
	t.Helper()
	r1, w1 := io.Pipe() // client -> service
	r2, w2 := io.Pipe() // service -> client

	var cli *client.Client
	var svc *service.Service
	clientConn := connector.New(w1, nil, clientHandlerFunc(func() connector.ClientHandler { return cli }))
	serviceConn := connector.New(w2, serviceHandlerFunc(func() connector.ServiceHandler { return svc }), nil)

	cli = client.New(clientConn)
	svc = service.New(serviceConn)

	go serviceConn.Run(r1)
	go clientConn.Run(r2)

	teardown := func() {
		_ = w1.Close()
		_ = w2.Close()
	}
	return cli, svc, teardown
}

// clientHandlerFunc/serviceHandlerFunc defer to a handler resolved after
// construction, since Connector and its handler are mutually referential
// (both sides need each other at construction time).
type clientHandlerFunc func() connector.ClientHandler

func (f clientHandlerFunc) Interim(fnCallNum uint64, body []byte) { f().Interim(fnCallNum, body) }
func (f clientHandlerFunc) End(fnCallNum uint64, body []byte)     { f().End(fnCallNum, body) }
func (f clientHandlerFunc) Error(fnCallNum *uint64, cause *xerrors.Error) {
	f().Error(fnCallNum, cause)
}

type serviceHandlerFunc func() connector.ServiceHandler

func (f serviceHandlerFunc) Start(fnCallNum uint64, path []string, body []byte) {
	f().Start(fnCallNum, path, body)
}
func (f serviceHandlerFunc) Cancel(fnCallNum uint64) { f().Cancel(fnCallNum) }
func (f serviceHandlerFunc) ListObj(path []string) ([]string, error) {
	return f().ListObj(path)
}
func (f serviceHandlerFunc) Drop(path []string) error { return f().Drop(path) }

func TestFilesystemCapabilityStatOverWire(t *testing.T) {
	t.Parallel()
	cli, svc, teardown := wireUp(t)
	defer teardown()

	backend := &memFilesystem{objects: map[string]*memSource{"abc": {data: []byte("hello")}}}
	NewFilesystemExposer(svc, []string{"fs"}, backend)
	caller := NewFilesystemCaller(cli, []string{"fs"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := caller.Stat(ctx, "abc")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ObjID != "abc" || !info.HasCurrent {
		t.Errorf("got %+v", info)
	}
}

func TestFilesystemCapabilityOpenAndReadOverWire(t *testing.T) {
	t.Parallel()
	cli, svc, teardown := wireUp(t)
	defer teardown()

	backend := &memFilesystem{objects: map[string]*memSource{"abc": {data: []byte("hello world")}}}
	NewFilesystemExposer(svc, []string{"fs"}, backend)
	caller := NewFilesystemCaller(cli, []string{"fs"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src, err := caller.Open(ctx, "abc", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := src.Read(ctx, 0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q", data)
	}
}

func TestFilesystemCapabilityStatMissingObjectFails(t *testing.T) {
	t.Parallel()
	cli, svc, teardown := wireUp(t)
	defer teardown()

	backend := &memFilesystem{objects: map[string]*memSource{}}
	NewFilesystemExposer(svc, []string{"fs"}, backend)
	caller := NewFilesystemCaller(cli, []string{"fs"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := caller.Stat(ctx, "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

// newRemoteTestServer is a minimal in-memory remote-storage HTTP stand-in,
// just enough for remote.HTTPBackend's GET/PUT/DELETE/HEAD traffic.
func newRemoteTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	objects := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[1:]
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodPut:
			buf := make([]byte, r.ContentLength)
			io.ReadFull(r.Body, buf)
			objects[key] = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStorageCapabilityUploadDownloadRemoveOverWire(t *testing.T) {
	t.Parallel()
	cli, svc, teardown := wireUp(t)
	defer teardown()

	srv := newRemoteTestServer(t)
	httpBackend := remote.NewHTTPBackend(srv.URL, nil)
	breaker := circuit.New("test-remote", circuit.Config{})
	r := remote.New(httpBackend, breaker, retry.DefaultConfig())
	backend := remote.NewStorageAdapter(r)

	NewStorageExposer(svc, []string{"storage"}, backend)
	caller := NewStorageCaller(cli, []string{"storage"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := caller.Upload(ctx, "abcdefghij", 1, []byte("hello")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, err := caller.Download(ctx, "abcdefghij", 1)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want %q", data, "hello")
	}
	if err := caller.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if err := caller.Remove(ctx, "abcdefghij", []uint64{1}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := caller.Download(ctx, "abcdefghij", 1); err == nil {
		t.Fatal("expected error downloading removed version")
	}
}
