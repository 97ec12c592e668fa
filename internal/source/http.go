package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// maxBodySize bounds how much of a feed response is read.
const maxBodySize = 8 << 20

// get issues GET endpoint?from=..&to=.. and returns the body.
func get(ctx context.Context, client *http.Client, id domain.SourceID, endpoint string, window domain.Window) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, unavailable(id, fmt.Errorf("parse url: %w", err))
	}
	q := u.Query()
	q.Set("from", window.Start.UTC().Format(time.RFC3339))
	q.Set("to", window.End.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, unavailable(id, fmt.Errorf("create request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, unavailable(id, fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unavailable(id, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, unavailable(id, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func getJSON[T any](ctx context.Context, client *http.Client, id domain.SourceID, endpoint string, window domain.Window) ([]T, error) {
	body, err := get(ctx, client, id, endpoint, window)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, unavailable(id, fmt.Errorf("decode: %w", err))
	}
	return out, nil
}
