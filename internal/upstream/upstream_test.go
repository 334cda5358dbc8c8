// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/ratelimit"
)

func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.New("test", 10000, 0)
	t.Cleanup(l.Close)
	return l
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{429, ClassRateLimited},
		{404, ClassNotFound},
		{401, ClassAuth},
		{403, ClassAuth},
		{500, ClassTransient},
		{502, ClassTransient},
		{503, ClassTransient},
		{400, ClassMalformed},
		{418, ClassMalformed},
	}
	for _, tt := range tests {
		if got := ClassOf(classifyStatus("test", tt.status)); got != tt.want {
			t.Errorf("status %d classified as %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(classifyStatus("test", 401)) {
		t.Error("auth errors must not be retryable")
	}
	if IsRetryable(newError(ClassMalformed, "test", errors.New("bad json"))) {
		t.Error("malformed errors must not be retryable")
	}
	if !IsRetryable(classifyStatus("test", 503)) {
		t.Error("5xx must be retryable")
	}
	if !IsRetryable(errors.New("plain network error")) {
		t.Error("unclassified errors default to retryable")
	}
}

func TestRedisQNextDeliversRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("queueID"); got != "killfeed-test" {
			t.Errorf("queueID = %q", got)
		}
		w.Write([]byte(`{"package":{"killID":128000001,"zkb":{"hash":"abc123","totalValue":1000}}}`))
	}))
	defer srv.Close()

	c := NewRedisQClient(srv.Client(), RedisQConfig{URL: srv.URL, QueueID: "killfeed-test"}, testLimiter(t))

	ref, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref == nil || ref.ID != 128000001 || ref.Hash != "abc123" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestRedisQNextEmptyPackageIsNormal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"package":null}`))
	}))
	defer srv.Close()

	c := NewRedisQClient(srv.Client(), RedisQConfig{URL: srv.URL, QueueID: "q"}, testLimiter(t))

	ref, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("empty package must not error: %v", err)
	}
	if ref != nil {
		t.Errorf("ref = %+v, want nil", ref)
	}
}

func TestRedisQNextRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewRedisQClient(srv.Client(), RedisQConfig{URL: srv.URL, QueueID: "q"}, testLimiter(t))

	_, err := c.Next(context.Background())
	if !IsRateLimited(err) {
		t.Errorf("err = %v, want rate-limited class", err)
	}
}

func TestRedisQNextMissingHashIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"package":{"killID":5,"zkb":{"hash":""}}}`))
	}))
	defer srv.Close()

	c := NewRedisQClient(srv.Client(), RedisQConfig{URL: srv.URL, QueueID: "q"}, testLimiter(t))

	_, err := c.Next(context.Background())
	if err == nil || ClassOf(err) != ClassMalformed {
		t.Errorf("err = %v, want malformed class", err)
	}
}

// zkillPages serves canned archive pages and records requests.
func zkillPages(t *testing.T, sizes []int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page int
		if _, err := fmt.Sscanf(r.URL.Path, "/api/kills/characterID/90000001/page/%d/", &page); err != nil {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if page > len(sizes) {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var sb strings.Builder
		sb.WriteString("[")
		base := (page - 1) * ZKillPageSize
		for i := 0; i < sizes[page-1]; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"killmail_id":%d,"zkb":{"hash":"h%d"}}`, base+i+1, base+i+1)
		}
		sb.WriteString("]")
		w.Write([]byte(sb.String()))
	}))
}

func newZKillClient(t *testing.T, srv *httptest.Server) *ZKillClient {
	t.Helper()
	return NewZKillClient(srv.Client(), ZKillConfig{
		BaseURL:        srv.URL,
		RetryAttempts:  3,
		RetryDelay:     time.Millisecond,
		Cooldown429:    time.Millisecond,
		InterPageDelay: time.Millisecond,
	}, testLimiter(t))
}

func TestFetchRefsStopsOnShortPage(t *testing.T) {
	srv := zkillPages(t, []int{200, 200, 150})
	defer srv.Close()

	c := newZKillClient(t, srv)
	refs, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, FetchRefsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 550 {
		t.Errorf("got %d refs, want 550", len(refs))
	}
	// Upstream-delivery order must be preserved.
	if refs[0].ID != 1 || refs[549].ID != 550 {
		t.Errorf("refs out of order: first=%d last=%d", refs[0].ID, refs[549].ID)
	}
}

func TestFetchRefsStopsOn404(t *testing.T) {
	srv := zkillPages(t, []int{200, 200})
	defer srv.Close()

	c := newZKillClient(t, srv)
	refs, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, FetchRefsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 400 {
		t.Errorf("got %d refs, want 400", len(refs))
	}
}

func TestFetchRefsStopsOnEmptyPage(t *testing.T) {
	srv := zkillPages(t, []int{200, 0})
	defer srv.Close()

	c := newZKillClient(t, srv)
	refs, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, FetchRefsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 200 {
		t.Errorf("got %d refs, want 200", len(refs))
	}
}

func TestFetchRefsIncrementalStopsAtSeenID(t *testing.T) {
	srv := zkillPages(t, []int{200, 200, 150})
	defer srv.Close()

	c := newZKillClient(t, srv)
	refs, err := c.FetchRefs(context.Background(),
		models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001},
		FetchRefsOptions{Seen: func(id int64) bool { return id == 250 }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Ids 1..249: everything before the first seen id, nothing after.
	if len(refs) != 249 {
		t.Errorf("got %d refs, want 249", len(refs))
	}
}

func TestFetchRefsRetriesTransientFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"killmail_id":1,"zkb":{"hash":"h1"}}]`))
	}))
	defer srv.Close()

	c := newZKillClient(t, srv)
	refs, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, FetchRefsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("got %d refs, want 1", len(refs))
	}
	if calls != 3 {
		t.Errorf("upstream called %d times, want 3", calls)
	}
}

func TestFetchRefsExhaustsRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newZKillClient(t, srv)
	_, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, FetchRefsOptions{})
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if ClassOf(err) != ClassTransient {
		t.Errorf("err = %v, want transient class", err)
	}
}

func TestFetchRefsGlobalSubjectRejected(t *testing.T) {
	srv := zkillPages(t, nil)
	defer srv.Close()

	c := newZKillClient(t, srv)
	_, err := c.FetchRefs(context.Background(), models.Subject{Kind: models.SubjectGlobal}, FetchRefsOptions{})
	if err == nil || ClassOf(err) != ClassMalformed {
		t.Errorf("err = %v, want malformed class", err)
	}
}

func TestFetchKillmailDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/killmails/128000001/abc123/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"killmail_id": 128000001,
			"killmail_time": "2026-03-14T18:22:00Z",
			"solar_system_id": 30000142,
			"victim": {
				"corporation_id": 98000001,
				"ship_type_id": 587,
				"damage_taken": 4312,
				"items": [{"item_type_id": 3178, "flag": 27, "singleton": 1, "quantity_destroyed": 1}]
			},
			"attackers": [{"corporation_id": 98000002, "damage_done": 4312, "final_blow": true, "security_status": -1.2}]
		}`))
	}))
	defer srv.Close()

	c := NewESIClient(srv.Client(), ESIConfig{BaseURL: srv.URL}, testLimiter(t))

	d, err := c.FetchKillmail(context.Background(), models.KillmailRef{ID: 128000001, Hash: "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.KillmailID != 128000001 || d.SolarSystemID != 30000142 {
		t.Errorf("detail = %+v", d)
	}
	if len(d.Victim.Items) != 1 || d.Victim.Items[0].Flag != 27 {
		t.Errorf("items = %+v", d.Victim.Items)
	}
}

func TestFetchKillmailRejectsInvalidDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// No attackers: structurally valid JSON, semantically broken.
		w.Write([]byte(`{"killmail_id":1,"killmail_time":"2026-01-01T00:00:00Z","solar_system_id":1,"victim":{"corporation_id":1,"ship_type_id":1},"attackers":[]}`))
	}))
	defer srv.Close()

	c := NewESIClient(srv.Client(), ESIConfig{BaseURL: srv.URL}, testLimiter(t))

	_, err := c.FetchKillmail(context.Background(), models.KillmailRef{ID: 1, Hash: "h"})
	if err == nil || ClassOf(err) != ClassMalformed {
		t.Errorf("err = %v, want malformed class", err)
	}
}

func TestFetchRecentKillmailsPagesWithAuth(t *testing.T) {
	sizes := []int{ESIPageSize, 20}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("Authorization = %q", got)
		}
		var page int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		if page > len(sizes) {
			w.Write([]byte(`[]`))
			return
		}
		var sb strings.Builder
		sb.WriteString("[")
		for i := 0; i < sizes[page-1]; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"killmail_id":%d,"killmail_hash":"h%d"}`, (page-1)*ESIPageSize+i+1, i)
		}
		sb.WriteString("]")
		w.Write([]byte(sb.String()))
	}))
	defer srv.Close()

	tokens := NewTokenSource(srv.Client(), ESIConfig{}, "refresh")
	tokens.accessToken = "access-token"
	tokens.expiresAt = time.Now().Add(time.Hour)

	c := NewESIClient(srv.Client(), ESIConfig{BaseURL: srv.URL}, testLimiter(t))
	refs, err := c.FetchRecentKillmails(context.Background(), models.Subject{Kind: models.SubjectCharacter, EntityID: 90000001}, tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := ESIPageSize + 20; len(refs) != want {
		t.Errorf("got %d refs, want %d", len(refs), want)
	}
}
