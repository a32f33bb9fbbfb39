package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

// recomputeMonitors best-effort re-resolves and re-pushes ownerID's runnable
// monitor set; a failure here is logged by the recomputer itself and never
// blocks the CRUD response (the next recompute, triggered by any later
// change, will catch up).
func (h *handler) recomputeMonitors(ctx context.Context, ownerID string) {
	if h.deps.MonitorSync == nil {
		return
	}
	_ = h.deps.MonitorSync.Recompute(ctx, ownerID)
}

type monitorPayload struct {
	Name             string                 `json:"name"`
	Type             monitor.MonitorType    `json:"type"`
	Target           string                 `json:"target"`
	FrequencySeconds int                    `json:"frequency_seconds"`
	TimeoutSeconds   int                    `json:"timeout_seconds"`
	Active           *bool                  `json:"active,omitempty"`
	ConfigJSON       string                 `json:"config_json,omitempty"`
	AssignmentType   monitor.AssignmentType `json:"assignment_type"`
	DirectHostIDs    []string               `json:"direct_host_ids,omitempty"`
	TagNames         []string               `json:"tag_names,omitempty"`
}

func (h *handler) monitors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out, err := h.deps.Monitors.ListActive(r.Context(), requestedOwner(r))
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload monitorPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(payload.Name) == "" || strings.TrimSpace(payload.Target) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name and target are required"))
			return
		}
		now := time.Now().UTC()
		rec := &monitor.Monitor{
			ID:               uuid.NewString(),
			OwnerID:          ownerFromCtx(r.Context()),
			Name:             payload.Name,
			Type:             payload.Type,
			Target:           payload.Target,
			FrequencySeconds: payload.FrequencySeconds,
			TimeoutSeconds:   payload.TimeoutSeconds,
			Active:           payload.Active == nil || *payload.Active,
			ConfigJSON:       payload.ConfigJSON,
			AssignmentType:   payload.AssignmentType,
			DirectHostIDs:    payload.DirectHostIDs,
			TagNames:         payload.TagNames,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := h.deps.Monitors.Create(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		h.recomputeMonitors(r.Context(), rec.OwnerID)
		writeJSON(w, http.StatusCreated, rec)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// monitorResource dispatches /monitors/{id} and /monitors/{id}/timeseries.
func (h *handler) monitorResource(w http.ResponseWriter, r *http.Request) {
	id, tail := resourceID(r.URL.Path, "/monitors")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if tail == "timeseries" {
		h.monitorTimeseries(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.deps.Monitors.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodPatch:
		var payload monitorPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := h.deps.Monitors.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		applyMonitorPayload(rec, payload)
		rec.UpdatedAt = time.Now().UTC()
		if err := h.deps.Monitors.Update(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		h.recomputeMonitors(r.Context(), rec.OwnerID)
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		rec, err := h.deps.Monitors.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		if err := h.deps.Monitors.Delete(r.Context(), id); err != nil {
			writeStorageError(w, err)
			return
		}
		h.recomputeMonitors(r.Context(), rec.OwnerID)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func applyMonitorPayload(rec *monitor.Monitor, payload monitorPayload) {
	if payload.Name != "" {
		rec.Name = payload.Name
	}
	if payload.Type != "" {
		rec.Type = payload.Type
	}
	if payload.Target != "" {
		rec.Target = payload.Target
	}
	if payload.FrequencySeconds != 0 {
		rec.FrequencySeconds = payload.FrequencySeconds
	}
	if payload.TimeoutSeconds != 0 {
		rec.TimeoutSeconds = payload.TimeoutSeconds
	}
	if payload.Active != nil {
		rec.Active = *payload.Active
	}
	if payload.ConfigJSON != "" {
		rec.ConfigJSON = payload.ConfigJSON
	}
	if payload.AssignmentType != "" {
		rec.AssignmentType = payload.AssignmentType
	}
	if payload.DirectHostIDs != nil {
		rec.DirectHostIDs = payload.DirectHostIDs
	}
	if payload.TagNames != nil {
		rec.TagNames = payload.TagNames
	}
}

// monitorTimeseries answers GET /monitors/{id}/timeseries?host=&since=&bucket_seconds=
// bucketed availability/latency, backed by storage's raw sqlite bucketing.
func (h *handler) monitorTimeseries(w http.ResponseWriter, r *http.Request, monitorID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	hostID := q.Get("host")

	since := time.Now().UTC().Add(-24 * time.Hour)
	if s := q.Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		since = parsed
	}

	bucketSeconds := 60
	if b := q.Get("bucket_seconds"); b != "" {
		parsed, err := strconv.Atoi(b)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bucket_seconds"))
			return
		}
		bucketSeconds = parsed
	}

	points, err := h.deps.Monitors.Timeseries(r.Context(), monitorID, hostID, since, bucketSeconds)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}
