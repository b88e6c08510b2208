package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// HTTPBackend is the concrete Backend this module ships for the
// remote-storage HTTP service spec §1 names as an out-of-scope external
// collaborator: a thin client issuing GET/PUT/DELETE/HEAD requests
// against a base URL, with no retry or circuit-breaking of its own — that
// belongs to Remote, which wraps whatever Backend it's given. No
// ecosystem HTTP client library appears anywhere in the teacher or the
// rest of the example pack, so this talks net/http directly rather than
// reaching for a dependency nothing else in the corpus uses.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend builds an HTTPBackend addressing baseURL (e.g.
// "https://store.example.com/objects"). httpClient may be nil, in which
// case http.DefaultClient is used.
func NewHTTPBackend(baseURL string, httpClient *http.Client) *HTTPBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPBackend{baseURL: baseURL, client: httpClient}
}

func (h *HTTPBackend) objectURL(key string) string {
	return h.baseURL + "/" + url.PathEscape(key)
}

// GetObject fetches byte range [offset, offset+size) of key, or
// everything from offset to the end when size is negative (the whole
// object when offset is also zero).
func (h *HTTPBackend) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	if offset != 0 || size >= 0 {
		if size >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, xerrors.NotFound(xerrors.KindStorage, key)
	default:
		return nil, fmt.Errorf("get %s: unexpected status %s", key, resp.Status)
	}
}

// PutObject uploads data as key, replacing any existing object there.
func (h *HTTPBackend) PutObject(ctx context.Context, key string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("put %s: unexpected status %s", key, resp.Status)
	}
	return nil
}

// DeleteObject removes key. A missing object is not an error: deletion is
// idempotent from the caller's point of view.
func (h *HTTPBackend) DeleteObject(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.objectURL(key), nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s: unexpected status %s", key, resp.Status)
	}
	return nil
}

// HealthCheck issues a HEAD request against the service root to confirm
// it's reachable.
func (h *HTTPBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.baseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("health check: unexpected status %s", resp.Status)
	}
	return nil
}
