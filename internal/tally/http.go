package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/theirongolddev/furnace/internal/model"
)

const (
	requestTimeout = 5 * time.Second
	maxBodySize    = 1 << 20 // 1 MB

	// SavePath and LatestPath are the daemon's snapshot slot endpoints.
	SavePath   = "/api/tally/save"
	LatestPath = "/api/tally/latest"
)

// ErrMalformedSnapshot is returned when the slot endpoint answers with a
// body that is not a snapshot.
var ErrMalformedSnapshot = errors.New("tally: malformed snapshot")

// HTTPStore is a store.SnapshotStore backed by the daemon's slot endpoints.
type HTTPStore struct {
	baseURL string
	http    *http.Client
}

// NewHTTPStore returns a client for the daemon at baseURL
// (e.g. "http://127.0.0.1:8787"). A bare host:port is given an http scheme.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPStore{baseURL: BaseURL(baseURL), http: client}
}

// BaseURL normalizes a daemon address into an http(s) base URL.
func BaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr
}

// Latest fetches the current slot contents.
func (h *HTTPStore) Latest(ctx context.Context) (model.Snapshot, error) {
	body, err := h.do(ctx, http.MethodGet, LatestPath, nil)
	if err != nil {
		return model.Snapshot{}, err
	}
	return DecodeSnapshot(body)
}

// Save replaces the slot contents.
func (h *HTTPStore) Save(ctx context.Context, s model.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("tally: encoding snapshot: %w", err)
	}
	body, err := h.do(ctx, http.MethodPost, SavePath, payload)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = "save rejected"
		}
		return fmt.Errorf("tally: %s", msg)
	}
	return nil
}

// Close is a no-op.
func (h *HTTPStore) Close() error {
	return nil
}

// DecodeSnapshot parses a snapshot body. A body whose "burned" field is not
// a number is rejected, like the pop-out view does.
func DecodeSnapshot(body []byte) (model.Snapshot, error) {
	if !gjson.ValidBytes(body) || gjson.GetBytes(body, "burned").Type != gjson.Number {
		return model.Snapshot{}, ErrMalformedSnapshot
	}
	var s model.Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return s.Sanitize(), nil
}

func (h *HTTPStore) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("tally: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tally: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("tally: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tally: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
