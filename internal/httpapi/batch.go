package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type batchCreateRequest struct {
	RequestPayload string   `json:"request_payload"`
	TargetHostIDs  []string `json:"target_host_ids"`
}

// batchCreate handles POST /batch: create a parent task and its Pending
// children through internal/batchsvc.Service.Create. This handler does not
// dispatch the children to agents.
func (h *handler) batchCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req batchCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.RequestPayload) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request_payload is required"))
		return
	}

	parentID, err := h.deps.Batches.Create(r.Context(), ownerFromCtx(r.Context()), req.RequestPayload, req.TargetHostIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"parent_id": parentID})
}

// batchResource dispatches /batch/{parentID}, /batch/{parentID}/terminate,
// and /batch/children/{childID}/terminate.
func (h *handler) batchResource(w http.ResponseWriter, r *http.Request) {
	id, tail := resourceID(r.URL.Path, "/batch")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if id == "children" {
		childID, childTail := splitFirst(tail)
		if childTail != "terminate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.terminateChild(w, r, childID)
		return
	}

	switch {
	case tail == "":
		h.batchDetail(w, r, id)
	case tail == "terminate":
		h.terminateParent(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func splitFirst(s string) (head, rest string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

type batchDetailResponse struct {
	Parent   any `json:"parent"`
	Children any `json:"children"`
}

func (h *handler) batchDetail(w http.ResponseWriter, r *http.Request, parentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parent, err := h.deps.BatchRead.GetParent(r.Context(), parentID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	children, err := h.deps.BatchRead.ListChildren(r.Context(), parentID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchDetailResponse{Parent: parent, Children: children})
}

func (h *handler) terminateParent(w http.ResponseWriter, r *http.Request, parentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.deps.Batches.TerminateParent(r.Context(), parentID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) terminateChild(w http.ResponseWriter, r *http.Request, childID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.deps.Batches.TerminateChild(r.Context(), childID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
