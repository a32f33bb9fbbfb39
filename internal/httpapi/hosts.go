package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

type hostPayload struct {
	Name                    string             `json:"name"`
	GroupName               string             `json:"group_name,omitempty"`
	Tags                    []string           `json:"tags,omitempty"`
	TrafficLimitBytes       uint64             `json:"traffic_limit_bytes,omitempty"`
	TrafficBillingRule      host.TrafficBillingRule `json:"traffic_billing_rule,omitempty"`
	TrafficCycleDayOfMonth  int                `json:"traffic_cycle_day_of_month,omitempty"`
	AutoRenewEnabled        bool               `json:"auto_renew_enabled,omitempty"`
	RenewalCycle            string             `json:"renewal_cycle,omitempty"`
	CustomDays              int                `json:"custom_days,omitempty"`
}

// hosts handles GET (list, scoped by owner) and POST (register a new host
// pending agent enrollment) on the collection endpoint.
func (h *handler) hosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		owner := requestedOwner(r)
		out, err := h.deps.Hosts.List(r.Context(), owner)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload hostPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(payload.Name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		now := time.Now().UTC()
		rec := &host.Host{
			ID:                     uuid.NewString(),
			OwnerID:                ownerFromCtx(r.Context()),
			Name:                   payload.Name,
			AgentSecret:            uuid.NewString(),
			Status:                 host.StatusPending,
			ConfigStatus:           host.ConfigStatusUnknown,
			GroupName:              payload.GroupName,
			Tags:                   payload.Tags,
			TrafficLimitBytes:      payload.TrafficLimitBytes,
			TrafficBillingRule:     payload.TrafficBillingRule,
			TrafficCycleDayOfMonth: payload.TrafficCycleDayOfMonth,
			AutoRenewEnabled:       payload.AutoRenewEnabled,
			RenewalCycle:           payload.RenewalCycle,
			CustomDays:             payload.CustomDays,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := h.deps.Hosts.Create(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// hostResource dispatches /hosts/{id}, /hosts/{id}/reminder/dismiss,
// /hosts/bulk/tags, and /hosts/bulk/trigger-update.
func (h *handler) hostResource(w http.ResponseWriter, r *http.Request) {
	id, tail := resourceID(r.URL.Path, "/hosts")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if id == "bulk" {
		switch tail {
		case "tags":
			h.bulkUpdateTags(w, r)
		case "trigger-update":
			h.bulkTriggerUpdateCheck(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}

	if tail == "reminder/dismiss" {
		h.dismissReminder(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.deps.Hosts.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodPatch:
		var payload hostPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := h.deps.Hosts.Get(r.Context(), id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		applyHostPayload(rec, payload)
		rec.UpdatedAt = time.Now().UTC()
		if err := h.deps.Hosts.Update(r.Context(), rec); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := h.deps.Hosts.Delete(r.Context(), id); err != nil {
			writeStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func applyHostPayload(rec *host.Host, payload hostPayload) {
	if payload.Name != "" {
		rec.Name = payload.Name
	}
	if payload.GroupName != "" {
		rec.GroupName = payload.GroupName
	}
	if payload.Tags != nil {
		rec.Tags = payload.Tags
	}
	if payload.TrafficLimitBytes != 0 {
		rec.TrafficLimitBytes = payload.TrafficLimitBytes
	}
	if payload.TrafficBillingRule != "" {
		rec.TrafficBillingRule = payload.TrafficBillingRule
	}
	if payload.TrafficCycleDayOfMonth != 0 {
		rec.TrafficCycleDayOfMonth = payload.TrafficCycleDayOfMonth
	}
	rec.AutoRenewEnabled = payload.AutoRenewEnabled
	if payload.RenewalCycle != "" {
		rec.RenewalCycle = payload.RenewalCycle
	}
	if payload.CustomDays != 0 {
		rec.CustomDays = payload.CustomDays
	}
}

// dismissReminder clears the renewal reminder flag set by internal/renewalsvc.
func (h *handler) dismissReminder(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, err := h.deps.Hosts.Get(r.Context(), id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	rec.ReminderActive = false
	rec.UpdatedAt = time.Now().UTC()
	if err := h.deps.Hosts.Update(r.Context(), rec); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type bulkTagsRequest struct {
	HostIDs []string `json:"host_ids"`
	Tags    []string `json:"tags"`
}

// bulkUpdateTags replaces the tag set on every listed host, tolerating
// per-host failures so one bad ID doesn't abort the whole batch.
func (h *handler) bulkUpdateTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req bulkTagsRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make(map[string]string, len(req.HostIDs))
	for _, id := range req.HostIDs {
		rec, err := h.deps.Hosts.Get(r.Context(), id)
		if err != nil {
			results[id] = err.Error()
			continue
		}
		rec.Tags = req.Tags
		rec.UpdatedAt = time.Now().UTC()
		if err := h.deps.Hosts.Update(r.Context(), rec); err != nil {
			results[id] = err.Error()
			continue
		}
		results[id] = "ok"
	}
	writeJSON(w, http.StatusOK, results)
}

type bulkTriggerRequest struct {
	HostIDs []string `json:"host_ids"`
}

// bulkTriggerUpdateCheck asks every listed, currently connected agent to
// run an update check, per spec's "trigger a self-update check" bulk op.
func (h *handler) bulkTriggerUpdateCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req bulkTriggerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make(map[string]bool, len(req.HostIDs))
	for _, id := range req.HostIDs {
		msg := &protocol.MessageToAgent{TriggerUpdate: &protocol.TriggerUpdateCheck{}}
		results[id] = h.deps.Agents.SendToAgent(r.Context(), id, msg)
	}
	writeJSON(w, http.StatusOK, results)
}

// requestedOwner lets an admin-scoped static token query any owner via
// ?owner=, while a JWT-authenticated user is always scoped to itself.
func requestedOwner(r *http.Request) string {
	if role, _ := r.Context().Value(ctxRoleKey).(string); role == "admin" {
		if q := r.URL.Query().Get("owner"); q != "" {
			return q
		}
	}
	return ownerFromCtx(r.Context())
}
