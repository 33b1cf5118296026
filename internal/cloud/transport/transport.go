// Package transport moves opaque ciphertext to and from presigned URLs.
// It performs exactly one HTTP exchange per call; retries belong to callers.
package transport

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/logging"
)

// maxErrorBody bounds how much of an error response body is kept in a TransportError
const maxErrorBody = 512

// PutRequest describes one PUT of a ciphertext payload.
type PutRequest struct {
	URL  string
	Body io.Reader
	Size int64
	// OnProgress receives the number of bytes sent since the previous call
	OnProgress func(delta int64)
}

// GetRequest describes one GET of a shard. A zero Offset and Length fetch the whole object.
type GetRequest struct {
	URL    string
	Offset int64
	Length int64 // 0 means to the end of the object
	// OnProgress receives the number of bytes received since the previous call
	OnProgress func(delta int64)
}

// UploadTransport PUTs a payload and returns the ETag the storage assigned to it.
type UploadTransport interface {
	Put(ctx context.Context, req PutRequest) (string, error)
}

// DownloadTransport opens a shard stream. The caller closes it.
type DownloadTransport interface {
	Get(ctx context.Context, req GetRequest) (io.ReadCloser, error)
}

// HTTPTransport implements UploadTransport and DownloadTransport over net/http.
type HTTPTransport struct {
	client *nethttp.Client
	logger *logging.Logger
}

// New creates an HTTPTransport. A nil client uses http.DefaultClient.
func New(client *nethttp.Client, logger *logging.Logger) *HTTPTransport {
	if client == nil {
		client = nethttp.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPTransport{client: client, logger: logger.Component("transport")}
}

// Put uploads req.Body with an explicit Content-Length of req.Size.
// Any 2xx response without an ETag header fails with storage.ErrMissingETag.
func (t *HTTPTransport) Put(ctx context.Context, req PutRequest) (string, error) {
	target := redactURL(req.URL)

	body := req.Body
	if req.OnProgress != nil {
		body = &progressReader{r: body, onProgress: req.OnProgress}
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPut, req.URL, body)
	if err != nil {
		return "", &storage.TransportError{Op: nethttp.MethodPut, URL: target, Err: err}
	}
	httpReq.ContentLength = req.Size
	if req.Size == 0 {
		httpReq.Body = nethttp.NoBody
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", storage.AbortedOr(ctx, "upload", &storage.TransportError{Op: nethttp.MethodPut, URL: target, Err: err})
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(nethttp.MethodPut, target, resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", &storage.TransportError{Op: nethttp.MethodPut, URL: target, StatusCode: resp.StatusCode, Err: storage.ErrMissingETag}
	}

	t.logger.Debug().Str("url", target).Int64("size", req.Size).Str("etag", etag).Msg("PUT complete")
	return etag, nil
}

// Get opens the object at req.URL starting at req.Offset.
// Servers that ignore the Range header (200 instead of 206) are handled by
// discarding the leading bytes locally.
func (t *HTTPTransport) Get(ctx context.Context, req GetRequest) (io.ReadCloser, error) {
	target := redactURL(req.URL)
	if req.Offset < 0 || req.Length < 0 {
		return nil, fmt.Errorf("invalid range offset=%d length=%d", req.Offset, req.Length)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &storage.TransportError{Op: nethttp.MethodGet, URL: target, Err: err}
	}
	ranged := req.Offset > 0 || req.Length > 0
	if ranged {
		httpReq.Header.Set("Range", rangeHeader(req.Offset, req.Length))
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, storage.AbortedOr(ctx, "download", &storage.TransportError{Op: nethttp.MethodGet, URL: target, Err: err})
	}

	var body io.Reader = resp.Body
	switch {
	case resp.StatusCode == nethttp.StatusPartialContent:
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if req.Offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, req.Offset); err != nil {
				resp.Body.Close()
				return nil, storage.AbortedOr(ctx, "download", &storage.TransportError{
					Op: nethttp.MethodGet, URL: target, StatusCode: resp.StatusCode,
					Err: fmt.Errorf("skipping to offset %d: %w", req.Offset, err),
				})
			}
		}
		if req.Length > 0 {
			body = io.LimitReader(resp.Body, req.Length)
		}
	default:
		defer drainAndClose(resp.Body)
		return nil, statusError(nethttp.MethodGet, target, resp)
	}

	if req.OnProgress != nil {
		body = &progressReader{r: body, onProgress: req.OnProgress}
	}
	return &readCloser{Reader: body, closer: resp.Body}, nil
}

func rangeHeader(offset, length int64) string {
	if length > 0 {
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	return fmt.Sprintf("bytes=%d-", offset)
}

func statusError(op, target string, resp *nethttp.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &storage.TransportError{
		Op:         op,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// redactURL strips the query string, which carries presigned credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}

type progressReader struct {
	r          io.Reader
	onProgress func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.onProgress(int64(n))
	}
	return n, err
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }
