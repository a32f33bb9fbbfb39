package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nodenexus/nodenexus/internal/domain/alert"
)

// alertPayload covers both the rule itself and its notification channel:
// NotificationTarget is the comma-separated "kind:address" list
// internal/notify.ParseTargets consumes, so there is no separate channel
// resource to CRUD — a rule's notification target IS its channel config.
type alertPayload struct {
	Name               string           `json:"name"`
	HostID             string           `json:"host_id,omitempty"`
	Metric             alert.MetricType `json:"metric"`
	Threshold          float64          `json:"threshold"`
	Comparator         alert.Comparator `json:"comparator"`
	DurationSeconds    int              `json:"duration_seconds"`
	CooldownSeconds    int              `json:"cooldown_seconds"`
	Active             *bool            `json:"active,omitempty"`
	NotificationTarget string           `json:"notification_target"`
}

func (h *handler) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out, err := h.deps.Alerts.ListByOwner(r.Context(), requestedOwner(r))
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload alertPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(payload.Name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		rec := &alert.Rule{
			ID:                 uuid.NewString(),
			OwnerID:            ownerFromCtx(r.Context()),
			HostID:             payload.HostID,
			Name:               payload.Name,
			Metric:             payload.Metric,
			Threshold:          payload.Threshold,
			Comparator:         payload.Comparator,
			DurationSeconds:    payload.DurationSeconds,
			CooldownSeconds:    payload.CooldownSeconds,
			Active:             payload.Active == nil || *payload.Active,
			NotificationTarget: payload.NotificationTarget,
		}
		if err := h.deps.Alerts.Create(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) alertResource(w http.ResponseWriter, r *http.Request) {
	id, _ := resourceID(r.URL.Path, "/alerts")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.deps.Alerts.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodPatch:
		var payload alertPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := h.deps.Alerts.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		applyAlertPayload(rec, payload)
		if err := h.deps.Alerts.Update(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := h.deps.Alerts.Delete(r.Context(), id); err != nil {
			writeStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func applyAlertPayload(rec *alert.Rule, payload alertPayload) {
	if payload.Name != "" {
		rec.Name = payload.Name
	}
	if payload.HostID != "" {
		rec.HostID = payload.HostID
	}
	if payload.Metric != "" {
		rec.Metric = payload.Metric
	}
	if payload.Threshold != 0 {
		rec.Threshold = payload.Threshold
	}
	if payload.Comparator != "" {
		rec.Comparator = payload.Comparator
	}
	if payload.DurationSeconds != 0 {
		rec.DurationSeconds = payload.DurationSeconds
	}
	if payload.CooldownSeconds != 0 {
		rec.CooldownSeconds = payload.CooldownSeconds
	}
	if payload.Active != nil {
		rec.Active = *payload.Active
	}
	if payload.NotificationTarget != "" {
		rec.NotificationTarget = payload.NotificationTarget
	}
}
