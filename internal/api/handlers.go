// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package api is the read-only HTTP query surface over the killmail
// store. No authentication: the data is public by nature, and write
// paths exist only inside the ingestion pipeline.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/database"
	"github.com/lostsec/killfeed/internal/fitting"
	"github.com/lostsec/killfeed/internal/models"
)

var validate = validator.New()

// Handler serves the killmail query endpoints.
type Handler struct {
	db  *database.DB
	cfg config.APIConfig
}

// NewHandler builds the query handler set.
func NewHandler(db *database.DB, cfg config.APIConfig) *Handler {
	return &Handler{db: db, cfg: cfg}
}

// killmailDetailResponse is a stored killmail with its owned rows.
type killmailDetailResponse struct {
	Killmail  models.Killmail       `json:"killmail"`
	Victim    *models.Victim        `json:"victim"`
	Attackers []models.Attacker     `json:"attackers"`
	Items     []models.KillmailItem `json:"items"`
}

// KillmailGet serves GET /api/v1/killmails/{id}.
func (h *Handler) KillmailGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "killmail id must be a positive integer")
		return
	}

	km, err := h.db.GetKillmail(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "killmail not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load killmail")
		return
	}

	victim, err := h.db.GetVictim(r.Context(), id)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load victim")
		return
	}
	attackers, err := h.db.GetAttackers(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load attackers")
		return
	}
	items, err := h.db.GetKillmailItems(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load items")
		return
	}

	respondSuccess(w, &killmailDetailResponse{
		Killmail:  *km,
		Victim:    victim,
		Attackers: attackers,
		Items:     items,
	}, start)
}

// listRequest is the validated query-parameter set for the killmail
// list endpoint. Subject filters and date filters may be combined only
// in that a subject filter wins when both are present.
type listRequest struct {
	Kind     string `validate:"omitempty,oneof=character corporation"`
	EntityID int64  `validate:"omitempty,min=1"`
	From     string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To       string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit    int    `validate:"min=1"`
	Offset   int    `validate:"min=0"`
}

// KillmailList serves GET /api/v1/killmails with subject or date-range
// filters. The date range is half-open: [from, to).
func (h *Handler) KillmailList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	req := listRequest{
		Kind:   q.Get("kind"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Limit:  getIntParam(r, "limit", h.cfg.DefaultPageSize),
		Offset: getIntParam(r, "offset", 0),
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "entity_id must be an integer")
			return
		}
		req.EntityID = id
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if (req.Kind == "") != (req.EntityID == 0) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind and entity_id must be supplied together")
		return
	}
	if req.Limit > h.cfg.MaxPageSize {
		req.Limit = h.cfg.MaxPageSize
	}

	var (
		kms []models.Killmail
		err error
	)
	switch {
	case req.Kind != "":
		subject := models.Subject{Kind: models.SubjectKind(req.Kind), EntityID: req.EntityID}
		kms, err = h.db.ListKillmailsBySubject(r.Context(), subject, req.Limit, req.Offset)
	case req.From != "" && req.To != "":
		from, _ := time.Parse(time.RFC3339, req.From)
		to, _ := time.Parse(time.RFC3339, req.To)
		kms, err = h.db.ListKillmailsByDateRange(r.Context(), from, to, req.Limit, req.Offset)
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "either a subject filter or a from/to range is required")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list killmails")
		return
	}
	if kms == nil {
		kms = []models.Killmail{}
	}

	respondSuccess(w, map[string]any{
		"killmails": kms,
		"limit":     req.Limit,
		"offset":    req.Offset,
	}, start)
}

// KillmailFitting serves GET /api/v1/killmails/{id}/fitting: the
// structured fitting reconstruction of the victim's ship.
//
// Slot counts for the hull may be passed as high/mid/low/rig/service
// query parameters (from the caller's ship-attribute source); absent,
// the universal defaults apply.
func (h *Handler) KillmailFitting(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "killmail id must be a positive integer")
		return
	}

	exists, err := h.db.KillmailExists(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load killmail")
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "killmail not found")
		return
	}

	items, err := h.db.GetKillmailItems(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load items")
		return
	}

	respondSuccess(w, fitting.Organize(items, slotCountsFromQuery(r)), start)
}

// slotCountsFromQuery builds SlotCounts from query parameters, or nil
// when none were supplied at all.
func slotCountsFromQuery(r *http.Request) *fitting.SlotCounts {
	q := r.URL.Query()
	supplied := false
	read := func(key string) int {
		v := q.Get(key)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0
		}
		supplied = true
		return n
	}

	counts := &fitting.SlotCounts{
		High:    read("high"),
		Mid:     read("mid"),
		Low:     read("low"),
		Rig:     read("rig"),
		Service: read("service"),
	}
	if !supplied {
		return nil
	}
	return counts
}

// Healthz serves GET /healthz: liveness plus a database ping.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DATABASE_ERROR", "database not reachable")
		return
	}
	respondSuccess(w, map[string]string{"status": "ok"}, time.Now())
}
