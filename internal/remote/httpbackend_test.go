package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, map[string][]byte) {
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
	return srv, objects
}

func TestHTTPBackendPutGetDelete(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	backend := NewHTTPBackend(srv.URL, nil)
	ctx := context.Background()

	if err := backend.PutObject(ctx, "abc/1", []byte("hello")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got, err := backend.GetObject(ctx, "abc/1", 0, -1)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	if err := backend.DeleteObject(ctx, "abc/1"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := backend.GetObject(ctx, "abc/1", 0, -1); err == nil {
		t.Error("expected error fetching deleted object")
	}
}

func TestHTTPBackendHealthCheck(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	backend := NewHTTPBackend(srv.URL, nil)
	if err := backend.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestHTTPBackendGetMissingObjectFails(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	backend := NewHTTPBackend(srv.URL, nil)
	if _, err := backend.GetObject(context.Background(), "missing", 0, -1); err == nil {
		t.Fatal("expected not-found error")
	}
}
