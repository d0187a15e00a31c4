package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopwise/listsync/permission"
)

type permissionResponse struct {
	Status       permission.Status `json:"status"`
	Dismissed    bool              `json:"dismissed"`
	ShouldPrompt bool              `json:"should_prompt"`
}

func (h *AdminHandlers) permissionState() permissionResponse {
	return permissionResponse{
		Status:       h.gate.Status(),
		Dismissed:    h.gate.IsDismissed(),
		ShouldPrompt: h.gate.ShouldPrompt(),
	}
}

func (h *AdminHandlers) handlePermission(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.permissionState())
}

// handleRequestPermission starts a prompt and returns without waiting for
// the answer. A final answer is returned directly.
func (h *AdminHandlers) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	if h.gate.Status() != permission.StatusDefault {
		writeJSONResponse(w, http.StatusOK, h.permissionState())
		return
	}

	h.gate.Request(h.ctx)
	writeJSONResponse(w, http.StatusAccepted, h.permissionState())
}

func (h *AdminHandlers) handleRespondPermission(w http.ResponseWriter, r *http.Request) {
	if h.responder == nil {
		writeErrorResponse(w, http.StatusNotImplemented, "platform does not accept simulated answers")
		return
	}

	status, err := permission.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	h.responder.Respond(status)
	writeJSONResponse(w, http.StatusOK, h.permissionState())
}

func (h *AdminHandlers) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Dismiss(); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, h.permissionState())
}

func (h *AdminHandlers) handleResetDismissal(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.ResetDismissal(); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, h.permissionState())
}
