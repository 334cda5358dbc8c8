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
	"time"

	"github.com/goccy/go-json"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/ratelimit"
)

// zKillboard archive paging contract.
const (
	// ZKillPageSize is the fixed page size the history endpoint serves.
	ZKillPageSize = 200

	DefaultZKillRetryAttempts  = 5
	DefaultZKillRetryDelay     = time.Second
	DefaultZKillCooldown       = 60 * time.Second
	DefaultZKillInterPageDelay = time.Second

	zkillSource = "zkillboard"
)

// ZKillConfig configures the historical-archive client.
type ZKillConfig struct {
	BaseURL   string
	UserAgent string

	RetryAttempts  int
	RetryDelay     time.Duration
	Cooldown429    time.Duration
	InterPageDelay time.Duration
}

// ZKillClient pages through the zKillboard killmail archive for a
// subject. The archive serves fixed-size pages; termination is
// signalled by a 404, an empty page, or a short page.
type ZKillClient struct {
	httpClient *http.Client
	cfg        ZKillConfig
	limiter    *ratelimit.Limiter
}

// NewZKillClient constructs an archive client sharing the given limiter
// with every other caller of the same upstream.
func NewZKillClient(httpClient *http.Client, cfg ZKillConfig, limiter *ratelimit.Limiter) *ZKillClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultZKillRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultZKillRetryDelay
	}
	if cfg.Cooldown429 <= 0 {
		cfg.Cooldown429 = DefaultZKillCooldown
	}
	if cfg.InterPageDelay <= 0 {
		cfg.InterPageDelay = DefaultZKillInterPageDelay
	}
	return &ZKillClient{httpClient: httpClient, cfg: cfg, limiter: limiter}
}

// FetchRefsOptions controls a paged ref fetch.
type FetchRefsOptions struct {
	// MaxPages bounds a single job's paging; 0 means no bound beyond the
	// archive's own termination signals.
	MaxPages int
	// Seen reports whether a killmail id has already been ingested.
	// In incremental mode, paging stops at the first seen id. Nil
	// disables incremental mode (full backfill).
	Seen func(id int64) bool
}

// FetchRefs pages through the archive for subject and returns killmail
// references in upstream-delivery order. Stops on 404, an empty page, a
// short page, the MaxPages bound, or (incremental mode) the first
// previously-seen id. Transient page failures retry with bounded
// exponential backoff; pages are spaced by the configured inter-page
// delay.
func (c *ZKillClient) FetchRefs(ctx context.Context, subject models.Subject, opts FetchRefsOptions) ([]models.KillmailRef, error) {
	var refs []models.KillmailRef

	for page := 1; opts.MaxPages <= 0 || page <= opts.MaxPages; page++ {
		if page > 1 {
			if err := wait(ctx, c.cfg.InterPageDelay); err != nil {
				return refs, err
			}
		}

		var entries []models.ZKBEntry
		err := retryWithBackoff(ctx, c.cfg.RetryAttempts, c.cfg.RetryDelay, c.cfg.Cooldown429, func() error {
			var ferr error
			entries, ferr = c.FetchPage(ctx, subject, page)
			return ferr
		})
		if err != nil {
			if IsNotFound(err) {
				// Paged past the end of the archive.
				break
			}
			return refs, err
		}

		done := false
		for i := range entries {
			ref := entries[i].Ref()
			if opts.Seen != nil && opts.Seen(ref.ID) {
				done = true
				break
			}
			refs = append(refs, ref)
		}

		if done || len(entries) == 0 || len(entries) < ZKillPageSize {
			break
		}
	}

	logging.Debug().
		Str("subject", subject.String()).
		Int("refs", len(refs)).
		Msg("Archive paging complete")
	return refs, nil
}

// FetchPage fetches one archive page. A 404 is returned as a not-found
// error; the caller treats it as end of data.
func (c *ZKillClient) FetchPage(ctx context.Context, subject models.Subject, page int) ([]models.ZKBEntry, error) {
	var entries []models.ZKBEntry

	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		e, err := c.fetchPage(ctx, subject, page)
		if err != nil {
			metrics.ObserveUpstreamRequest(zkillSource, ClassOf(err).String(), start)
			return err
		}
		metrics.ObserveUpstreamRequest(zkillSource, "success", start)
		entries = e
		return nil
	})
	return entries, err
}

func (c *ZKillClient) fetchPage(ctx context.Context, subject models.Subject, page int) ([]models.ZKBEntry, error) {
	op := fmt.Sprintf("zkillboard page %d", page)

	u, err := c.pageURL(subject, page)
	if err != nil {
		return nil, newError(ClassMalformed, op, err)
	}

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

	var entries []models.ZKBEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, newError(ClassMalformed, op, fmt.Errorf("failed to decode page: %w", err))
	}
	return entries, nil
}

// pageURL builds the archive URL for a subject. The global stream has
// no archive representation; only character and corporation subjects
// can be paged.
func (c *ZKillClient) pageURL(subject models.Subject, page int) (string, error) {
	switch subject.Kind {
	case models.SubjectCharacter:
		return fmt.Sprintf("%s/api/kills/characterID/%d/page/%d/", c.cfg.BaseURL, subject.EntityID, page), nil
	case models.SubjectCorporation:
		return fmt.Sprintf("%s/api/kills/corporationID/%d/page/%d/", c.cfg.BaseURL, subject.EntityID, page), nil
	default:
		return "", fmt.Errorf("subject kind %q has no archive endpoint", subject.Kind)
	}
}
