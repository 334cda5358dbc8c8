// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/ratelimit"
)

// RedisQ defaults. The listen endpoint holds the connection up to ttw
// seconds waiting for a killmail, so the HTTP timeout must comfortably
// exceed the long-poll window.
const (
	DefaultRedisQTTW      = 10 * time.Second
	DefaultRedisQCooldown = 30 * time.Second

	redisqSource = "redisq"
)

// RedisQConfig configures the RedisQ long-poll client.
type RedisQConfig struct {
	URL       string
	QueueID   string
	UserAgent string
	// TTW is the long-poll window the server holds the request open for.
	TTW time.Duration
	// Cooldown429 is the fixed pause after an HTTP 429 before the stream
	// loop resumes polling.
	Cooldown429 time.Duration
}

// RedisQClient long-polls the zKillboard RedisQ endpoint. Each call
// returns at most one killmail reference; an empty response inside the
// poll window is a normal outcome, not an error.
//
// Responses carry only id+hash. The embedded killmail body, when
// present at all, is legacy and must not be trusted; callers always do
// a follow-up detail fetch.
type RedisQClient struct {
	httpClient *http.Client
	cfg        RedisQConfig
	limiter    *ratelimit.Limiter
}

// NewRedisQClient constructs a RedisQ client sharing the given limiter
// with every other caller of the same upstream.
func NewRedisQClient(httpClient *http.Client, cfg RedisQConfig, limiter *ratelimit.Limiter) *RedisQClient {
	if cfg.TTW <= 0 {
		cfg.TTW = DefaultRedisQTTW
	}
	if cfg.Cooldown429 <= 0 {
		cfg.Cooldown429 = DefaultRedisQCooldown
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TTW + 20*time.Second}
	}
	return &RedisQClient{httpClient: httpClient, cfg: cfg, limiter: limiter}
}

// Cooldown429 is the pause the stream loop applies after a rate-limit
// response from this upstream.
func (c *RedisQClient) Cooldown429() time.Duration { return c.cfg.Cooldown429 }

// Next polls once. Returns (nil, nil) when the poll window expired with
// no killmail; the caller just polls again.
func (c *RedisQClient) Next(ctx context.Context) (*models.KillmailRef, error) {
	var ref *models.KillmailRef

	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		r, err := c.poll(ctx)
		if err != nil {
			metrics.ObserveUpstreamRequest(redisqSource, ClassOf(err).String(), start)
			return err
		}
		metrics.ObserveUpstreamRequest(redisqSource, "success", start)
		ref = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (c *RedisQClient) poll(ctx context.Context) (*models.KillmailRef, error) {
	const op = "redisq listen"

	u := fmt.Sprintf("%s?queueID=%s&ttw=%d",
		c.cfg.URL, url.QueryEscape(c.cfg.QueueID), int(c.cfg.TTW.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(ClassMalformed, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(ClassTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(op, resp.StatusCode)
	}

	var envelope models.RedisQResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, newError(ClassMalformed, op, fmt.Errorf("failed to decode response: %w", err))
	}

	// A null package is the server saying "nothing arrived within ttw".
	if envelope.Package == nil {
		return nil, nil
	}

	ref := envelope.Package.Ref()
	if ref.ID <= 0 || ref.Hash == "" {
		return nil, newError(ClassMalformed, op, fmt.Errorf("package missing id or hash: %+v", ref))
	}

	logging.Debug().Int64("killmail_id", ref.ID).Msg("RedisQ delivered killmail reference")
	return &ref, nil
}
