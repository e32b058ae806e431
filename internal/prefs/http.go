package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Value is the wire form of one preference.
type Value struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HTTP is a Store backed by the server's /api/v1/preferences endpoints.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}

func (h *HTTP) url(key string) string {
	return strings.TrimRight(h.BaseURL, "/") + "/api/v1/preferences/" + url.PathEscape(key)
}

func (h *HTTP) Get(ctx context.Context, key string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(key), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode/100 != 2:
		return "", false, fmt.Errorf("get preference %s: status %d", key, resp.StatusCode)
	}
	var v Value
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&v); err != nil {
		return "", false, fmt.Errorf("decode preference %s: %w", key, err)
	}
	return v.Value, true, nil
}

func (h *HTTP) Set(ctx context.Context, key, value string) error {
	body, err := json.Marshal(struct {
		Value string `json:"value"`
	}{value})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.url(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("put preference %s: status %d", key, resp.StatusCode)
	}
	return nil
}
