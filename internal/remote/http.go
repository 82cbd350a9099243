package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
)

// HTTPStore implements Store against the Skrift sync service:
// documents live under /v1/{collection}/{id}, list queries filter by
// owner, and /v1/batch applies atomic multi-document writes.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ Store = (*HTTPStore)(nil)

// HTTPOptions configures NewHTTPStore. Zero values get conservative
// defaults.
type HTTPOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Client     *http.Client
}

// NewHTTPStore creates an HTTP-backed remote store.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 3
	}
	return &HTTPStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: client,
		timeout:    timeout,
		maxRetries: retries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// Get implements Store.
func (s *HTTPStore) Get(ctx context.Context, col Collection, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/%s/%s", col, url.PathEscape(id)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List implements Store.
func (s *HTTPStore) List(ctx context.Context, col Collection, ownerID, orderBy string, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("owner", ownerID)
	if orderBy != "" {
		q.Set("orderBy", orderBy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Documents []json.RawMessage `json:"documents"`
	}
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/%s?%s", col, q.Encode()), nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Upsert implements Store.
func (s *HTTPStore) Upsert(ctx context.Context, col Collection, id string, doc any, merge bool) error {
	path := fmt.Sprintf("/v1/%s/%s", col, url.PathEscape(id))
	if merge {
		path += "?merge=true"
	}
	return s.doJSON(ctx, http.MethodPut, path, doc, nil)
}

// Delete implements Store.
func (s *HTTPStore) Delete(ctx context.Context, col Collection, id string) error {
	return s.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/v1/%s/%s", col, url.PathEscape(id)), nil, nil)
}

// BatchCommit implements Store.
func (s *HTTPStore) BatchCommit(ctx context.Context, ops []Operation) error {
	body := struct {
		Operations []Operation `json:"operations"`
	}{Operations: ops}
	return s.doJSON(ctx, http.MethodPost, "/v1/batch", body, nil)
}

// Healthy probes the service health endpoint. Used by the connectivity
// monitor; any response counts as reachable.
func (s *HTTPStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// doJSON performs one request with bounded timeout, retrying throttling
// and server errors with capped doubling backoff.
func (s *HTTPStore) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	op := method + " " + requestPath

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
	}

	for attempt := 0; ; attempt++ {
		err := s.doOnce(ctx, method, requestPath, bodyBytes, out)
		if err == nil {
			return nil
		}

		var rerr *Error
		if errors.As(err, &rerr) && rerr.Retryable() && attempt < s.maxRetries {
			if waitErr := waitWithContext(ctx, s.retryDelay(attempt+1, rerr.retryAfter)); waitErr != nil {
				return &Error{Op: op, Timeout: true, Err: waitErr}
			}
			continue
		}
		return err
	}
}

func (s *HTTPStore) doOnce(ctx context.Context, method, requestPath string, bodyBytes []byte, out any) error {
	op := method + " " + requestPath

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+requestPath, bodyReader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &Error{Op: op, Err: readErr}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Op: op, Status: resp.StatusCode, Err: apperr.ErrDocumentNotFound}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Op: op, Status: resp.StatusCode, Err: apperr.ErrPermissionDenied}
	default:
		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		e := &Error{Op: op, Status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		if errPayload.Error != "" {
			e.Err = errors.New(errPayload.Error)
		}
		return e
	}
}

func (s *HTTPStore) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
