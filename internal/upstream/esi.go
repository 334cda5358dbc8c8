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
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/ratelimit"
)

// ESI paging and auth contract.
const (
	// ESIPageSize is the page size the killmail list endpoints serve.
	ESIPageSize = 200

	// TokenRefreshMargin refreshes an access token when its expiry is
	// within this window, so a token never goes stale mid-request.
	TokenRefreshMargin = 5 * time.Minute

	esiSource = "esi"
)

// ESIConfig configures the official-API client.
type ESIConfig struct {
	BaseURL   string
	UserAgent string

	// SSO token endpoint and client id for the refresh grant.
	TokenURL string
	ClientID string
}

// ESIClient talks to the official EVE API. Detail fetches are public
// and unauthenticated; the per-subject killmail list requires a bearer
// token obtained through a TokenSource.
type ESIClient struct {
	httpClient *http.Client
	cfg        ESIConfig
	limiter    *ratelimit.Limiter
}

// NewESIClient constructs an official-API client sharing the given
// limiter with every other caller of the same upstream.
func NewESIClient(httpClient *http.Client, cfg ESIConfig, limiter *ratelimit.Limiter) *ESIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ESIClient{httpClient: httpClient, cfg: cfg, limiter: limiter}
}

// FetchKillmail fetches full killmail detail by id+hash. Public,
// unauthenticated, idempotent; the hash is the integrity proof.
func (c *ESIClient) FetchKillmail(ctx context.Context, ref models.KillmailRef) (*models.KillmailDetail, error) {
	op := fmt.Sprintf("esi killmail %d", ref.ID)

	var detail *models.KillmailDetail
	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()

		u := fmt.Sprintf("%s/v1/killmails/%d/%s/", c.cfg.BaseURL, ref.ID, url.PathEscape(ref.Hash))
		d, err := fetchJSON[models.KillmailDetail](ctx, c.httpClient, op, u, c.cfg.UserAgent, "")
		if err != nil {
			metrics.ObserveUpstreamRequest(esiSource, ClassOf(err).String(), start)
			return err
		}
		if err := d.Validate(); err != nil {
			metrics.ObserveUpstreamRequest(esiSource, ClassMalformed.String(), start)
			return newError(ClassMalformed, op, err)
		}
		metrics.ObserveUpstreamRequest(esiSource, "success", start)
		detail = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// esiKillmailRef is the row shape of the authed killmail list.
type esiKillmailRef struct {
	KillmailID   int64  `json:"killmail_id"`
	KillmailHash string `json:"killmail_hash"`
}

// FetchRecentKillmails pages through a subject's killmail list using a
// bearer token from tokens. Termination mirrors the archive client:
// 404, empty page, or short page. Auth failures surface as ClassAuth so
// the orchestrator disables the subject instead of retrying forever.
func (c *ESIClient) FetchRecentKillmails(ctx context.Context, subject models.Subject, tokens *TokenSource) ([]models.KillmailRef, error) {
	var refs []models.KillmailRef

	for page := 1; ; page++ {
		token, err := tokens.Token(ctx)
		if err != nil {
			return refs, err
		}

		op := fmt.Sprintf("esi killmail list page %d", page)
		u, err := c.listURL(subject, page)
		if err != nil {
			return refs, newError(ClassMalformed, op, err)
		}

		var rows []esiKillmailRef
		err = c.limiter.Execute(ctx, func(ctx context.Context) error {
			start := time.Now()
			r, ferr := fetchJSON[[]esiKillmailRef](ctx, c.httpClient, op, u, c.cfg.UserAgent, token)
			if ferr != nil {
				metrics.ObserveUpstreamRequest(esiSource, ClassOf(ferr).String(), start)
				return ferr
			}
			metrics.ObserveUpstreamRequest(esiSource, "success", start)
			rows = *r
			return nil
		})
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return refs, err
		}

		for _, row := range rows {
			refs = append(refs, models.KillmailRef{ID: row.KillmailID, Hash: row.KillmailHash})
		}
		if len(rows) == 0 || len(rows) < ESIPageSize {
			break
		}
	}

	return refs, nil
}

func (c *ESIClient) listURL(subject models.Subject, page int) (string, error) {
	switch subject.Kind {
	case models.SubjectCharacter:
		return fmt.Sprintf("%s/v1/characters/%d/killmails/recent/?page=%d", c.cfg.BaseURL, subject.EntityID, page), nil
	case models.SubjectCorporation:
		return fmt.Sprintf("%s/v1/corporations/%d/killmails/recent/?page=%d", c.cfg.BaseURL, subject.EntityID, page), nil
	default:
		return "", fmt.Errorf("subject kind %q has no killmail list endpoint", subject.Kind)
	}
}

// fetchJSON performs one GET and decodes the 200 response into T.
func fetchJSON[T any](ctx context.Context, client *http.Client, op, u, userAgent, bearer string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(ClassMalformed, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(ClassTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(op, resp.StatusCode)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError(ClassMalformed, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return &out, nil
}

// TokenSource manages one subject's OAuth tokens, refreshing the access
// token transparently when its expiry falls within TokenRefreshMargin.
// Not safe for concurrent use; each subject's sync job owns its source.
type TokenSource struct {
	httpClient *http.Client
	cfg        ESIConfig

	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

// NewTokenSource builds a token source seeded with a stored refresh
// token.
func NewTokenSource(httpClient *http.Client, cfg ESIConfig, refreshToken string) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{httpClient: httpClient, cfg: cfg, refreshToken: refreshToken}
}

// RefreshToken returns the current refresh token. The auth server may
// rotate it on refresh; callers persist the returned value after a sync.
func (t *TokenSource) RefreshToken() string { return t.refreshToken }

// Token returns a valid access token, refreshing first when the cached
// one expires within the safety margin.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t.accessToken != "" && time.Until(t.expiresAt) > TokenRefreshMargin {
		return t.accessToken, nil
	}
	if err := t.refresh(ctx); err != nil {
		return "", err
	}
	return t.accessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t *TokenSource) refresh(ctx context.Context) error {
	const op = "refresh token"

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {t.refreshToken},
		"client_id":     {t.cfg.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return newError(ClassMalformed, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return newError(ClassTransient, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// The auth server rejected the refresh token itself. No amount
		// of retrying recovers this; the subject needs a human.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return ErrReauthorizationRequired
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return classifyStatus(op, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return newError(ClassMalformed, op, fmt.Errorf("failed to decode token response: %w", err))
	}
	if tr.AccessToken == "" {
		return newError(ClassMalformed, op, fmt.Errorf("token response missing access_token"))
	}

	t.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		t.refreshToken = tr.RefreshToken
	}
	t.expiresAt = tokenExpiry(tr)

	logging.Debug().Time("expires_at", t.expiresAt).Msg("Refreshed access token")
	return nil
}

// tokenExpiry resolves when the access token expires. expires_in is
// authoritative; when absent, the JWT exp claim is the fallback. An
// access token with neither is treated as already inside the refresh
// margin, forcing a refresh on every use rather than risking a stale
// token.
func tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now()
}

// ParseCharacterID extracts the character id from an EVE SSO JWT
// subject claim ("CHARACTER:EVE:12345"). Used when registering a
// subject from a fresh authorization.
func ParseCharacterID(accessToken string) (int64, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return 0, fmt.Errorf("failed to parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, fmt.Errorf("access token missing subject claim")
	}
	parts := strings.Split(sub, ":")
	id, perr := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("unexpected subject claim %q", sub)
	}
	return id, nil
}
