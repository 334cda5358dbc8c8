// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package value

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/lostsec/killfeed/internal/logging"
)

// DefaultPriceTTL matches the ESI cache timer on the market prices
// endpoint; refreshing more often returns the same payload.
const DefaultPriceTTL = time.Hour

// ESIPriceClient serves market prices from the ESI /markets/prices/
// endpoint. The endpoint returns the full price table in one response,
// so the client fetches it wholesale and answers lookups from an
// in-memory snapshot until the TTL lapses.
type ESIPriceClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	ttl        time.Duration

	mu        sync.Mutex
	snapshot  map[int64]Price
	fetchedAt time.Time
}

// NewESIPriceClient returns a price client against the given ESI base
// URL (e.g. "https://esi.evetech.net"). A zero ttl selects
// DefaultPriceTTL.
func NewESIPriceClient(httpClient *http.Client, baseURL, userAgent string, ttl time.Duration) *ESIPriceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &ESIPriceClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		ttl:        ttl,
	}
}

// Prices implements PriceLookup. A stale snapshot is refreshed before
// answering; when the refresh fails but an old snapshot exists, the
// stale data is served rather than failing the appraisal.
func (c *ESIPriceClient) Prices(ctx context.Context, typeIDs []int64) (map[int64]Price, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil || time.Since(c.fetchedAt) > c.ttl {
		if err := c.refreshLocked(ctx); err != nil {
			if c.snapshot == nil {
				return nil, err
			}
			logging.Warn().Err(err).
				Time("fetched_at", c.fetchedAt).
				Msg("Price refresh failed, serving stale snapshot")
		}
	}

	out := make(map[int64]Price, len(typeIDs))
	for _, id := range typeIDs {
		if p, ok := c.snapshot[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *ESIPriceClient) refreshLocked(ctx context.Context) error {
	url := c.baseURL + "/v1/markets/prices/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("price request returned status %d", resp.StatusCode)
	}

	var rows []Price
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("failed to decode price response: %w", err)
	}

	snapshot := make(map[int64]Price, len(rows))
	for _, p := range rows {
		snapshot[p.TypeID] = p
	}
	c.snapshot = snapshot
	c.fetchedAt = time.Now()

	logging.Debug().Int("types", len(snapshot)).Msg("Refreshed market price snapshot")
	return nil
}
