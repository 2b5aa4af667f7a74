// Package handler exposes the registry over HTTP: the pull API consumed
// by the downstream registry and the mutation API used by data owners.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"addrreg/internal/events"
	"addrreg/internal/registry/cache"
	"addrreg/internal/registry/service"
	"addrreg/internal/sync"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
	"addrreg/pkg/platform/httputil"
)

// Handler serves the registry's HTTP surface.
type Handler struct {
	registry *service.Service
	events   *events.Service
	cache    *cache.ChecksumCache
}

// New creates the handler over the registry and outbox services.
func New(registry *service.Service, eventService *events.Service, checksumCache *cache.ChecksumCache) *Handler {
	return &Handler{
		registry: registry,
		events:   eventService,
		cache:    checksumCache,
	}
}

// Register mounts all routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/listChecksums", h.listChecksums)
	r.Get("/get/{type}/{checksums}", h.getByChecksums)
	r.Get("/getNewEvents", h.getNewEvents)
	r.Post("/receipt/{eventID}", h.receipt)

	r.Route("/objects/{type}", func(r chi.Router) {
		r.Post("/", h.createObject)
		r.Get("/{objectID}", h.getObject)
		r.Put("/{objectID}", h.updateObject)
		r.Delete("/{objectID}", h.deleteObject)
		r.Get("/{objectID}/history", h.history)
	})
}

// listChecksums lists, per changed object, the checksums of registrations
// starting at or after the given timestamp. Without a timestamp it lists
// the full history of every object.
func (h *Handler) listChecksums(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "bad timestamp %q", raw))
			return
		}
		since = &t
	}
	var types []string
	if raw := r.URL.Query().Get("objectType"); raw != "" {
		types = strings.Split(raw, ",")
	}

	changed, err := h.registry.ChangedSince(r.Context(), types, since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if changed == nil {
		changed = []service.ChangedObject{}
	}
	httputil.WriteJSON(w, http.StatusOK, changed)
}

// getByChecksums resolves a `;`-separated checksum list to formatted
// registration content. Resolved content is immutable and cached.
func (h *Handler) getByChecksums(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	checksums := splitChecksums(chi.URLParam(r, "checksums"))
	if len(checksums) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "no checksums given"))
		return
	}

	out := make([]json.RawMessage, 0, len(checksums))
	var misses []string
	for _, c := range checksums {
		if data, ok := h.cache.Get(r.Context(), c); ok {
			out = append(out, data)
		} else {
			misses = append(misses, c)
		}
	}

	if len(misses) > 0 {
		registrations, err := h.registry.RegistrationsByChecksums(r.Context(), typ, misses)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		found := make(map[string]bool, len(registrations))
		for _, reg := range registrations {
			data, err := json.Marshal(reg.Format())
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			h.cache.Put(r.Context(), reg.Checksum, data)
			out = append(out, data)
			found[reg.Checksum] = true
		}
		for _, c := range misses {
			if !found[c] {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "unknown checksum %s", c))
				return
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// getNewEvents returns the push envelopes of all undelivered events, for
// consumers that poll instead of receiving pushes.
func (h *Handler) getNewEvents(w http.ResponseWriter, r *http.Request) {
	pending, err := h.events.List(r.Context(), events.ListFilter{PendingOnly: true})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	envelopes := make([]sync.Envelope, 0, len(pending))
	for _, e := range pending {
		sc, ok := h.registry.Schema(e.UpdatedType)
		if !ok {
			continue
		}
		registrations, err := h.registry.RegistrationsByChecksums(r.Context(), e.UpdatedType, []string{e.UpdatedRegistrationChecksum})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if len(registrations) == 0 {
			continue
		}
		env, err := sync.BuildEnvelope(e, sc.Name, registrations[0])
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		envelopes = append(envelopes, env)
	}
	httputil.WriteJSON(w, http.StatusOK, envelopes)
}

type receiptRequest struct {
	Status    string  `json:"status"`
	ErrorCode *string `json:"errorCode"`
}

// receipt records the consumer's acknowledgement of one event. Repeated
// receipts re-stamp the event; an unknown eventID is a 404.
func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad event id"))
		return
	}
	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad receipt body"))
		return
	}

	var errorCode *string
	switch req.Status {
	case "ok":
	case "failed":
		errorCode = req.ErrorCode
		if errorCode == nil {
			code := "unknown"
			errorCode = &code
		}
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "bad receipt status %q", req.Status))
		return
	}

	if err := h.events.Receipt(r.Context(), eventID, errorCode); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type objectResponse struct {
	Type             string         `json:"type"`
	ObjectID         string         `json:"objectID"`
	RegistrationFrom string         `json:"registrationFrom"`
	Fields           map[string]any `json:"fields"`
}

type mutationRequest struct {
	Fields           map[string]any `json:"fields"`
	RegistrationUser *string        `json:"registrationUser"`
	ValidFrom        *string        `json:"validFrom"`
	ValidTo          *string        `json:"validTo"`
}

func (h *Handler) createObject(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	req, opts, err := decodeMutation(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.registry.Create(r.Context(), typ, temporal.Fields(req.Fields), opts)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, formatEntity(entity))
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	objectID, err := uuid.Parse(chi.URLParam(r, "objectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad object id"))
		return
	}
	entity, err := h.registry.Get(r.Context(), typ, objectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, formatEntity(entity))
}

// updateObject updates a live object, or recreates a previously deleted
// one under its old objectID.
func (h *Handler) updateObject(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	objectID, err := uuid.Parse(chi.URLParam(r, "objectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad object id"))
		return
	}
	req, opts, err := decodeMutation(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entity, err := h.registry.Update(r.Context(), typ, objectID, temporal.Fields(req.Fields), opts)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		entity, err = h.registry.Recreate(r.Context(), typ, objectID, temporal.Fields(req.Fields), opts)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, formatEntity(entity))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, formatEntity(entity))
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	objectID, err := uuid.Parse(chi.URLParam(r, "objectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad object id"))
		return
	}
	if err := h.registry.Delete(r.Context(), typ, objectID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// history lists one object's (sequenceNumber, checksum) pairs.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	objectID, err := uuid.Parse(chi.URLParam(r, "objectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bad object id"))
		return
	}
	var since *time.Time
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "bad timestamp %q", raw))
			return
		}
		since = &t
	}
	entries, err := h.registry.History(r.Context(), typ, objectID, since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []temporal.HistoryEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func decodeMutation(r *http.Request) (mutationRequest, service.WriteOptions, error) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, service.WriteOptions{}, dErrors.New(dErrors.CodeBadRequest, "bad request body")
	}
	opts := service.WriteOptions{User: req.RegistrationUser}
	if req.ValidFrom != nil {
		t, err := parseTimestamp(*req.ValidFrom)
		if err != nil {
			return req, opts, dErrors.Newf(dErrors.CodeBadRequest, "bad validFrom %q", *req.ValidFrom)
		}
		opts.ValidFrom = &t
	}
	if req.ValidTo != nil {
		t, err := parseTimestamp(*req.ValidTo)
		if err != nil {
			return req, opts, dErrors.Newf(dErrors.CodeBadRequest, "bad validTo %q", *req.ValidTo)
		}
		opts.ValidTo = &t
	}
	return req, opts, nil
}

func formatEntity(e *temporal.Entity) objectResponse {
	return objectResponse{
		Type:             e.Type,
		ObjectID:         strings.ToLower(e.ObjectID.String()),
		RegistrationFrom: e.RegistrationFrom.Format(temporal.TimestampLayout),
		Fields:           formatFields(e.Fields),
	}
}

func formatFields(fields temporal.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case time.Time:
			out[k] = v.Format(temporal.TimestampLayout)
		case uuid.UUID:
			out[k] = strings.ToLower(v.String())
		case temporal.Enum:
			out[k] = v.Ordinal()
		default:
			out[k] = v
		}
	}
	return out
}

// splitChecksums parses the `;`-separated checksum path segment, dropping
// empty entries and duplicates.
func splitChecksums(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range strings.Split(raw, ";") {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// parseTimestamp accepts the registry's numeric-offset layout plus the
// common ISO forms, defaulting naive timestamps to UTC.
func parseTimestamp(raw string) (time.Time, error) {
	layouts := []string{
		temporal.TimestampLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
