package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopwise/listsync/collab"
)

type subscriptionsResponse struct {
	Keys        []string `json:"keys"`
	MemberLists []string `json:"member_lists"`
	ViewedLists []string `json:"viewed_lists"`
	Foreground  bool     `json:"foreground"`
}

func (h *AdminHandlers) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	keys := h.manager.Keys()
	resp := subscriptionsResponse{
		Keys:        make([]string, len(keys)),
		MemberLists: h.session.MemberLists(),
		ViewedLists: h.session.ViewedLists(),
		Foreground:  h.session.Foreground(),
	}
	for i, k := range keys {
		resp.Keys[i] = string(k)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) handleWatchList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	if err := h.session.WatchList(r.Context(), listID); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, collab.ErrClosed) {
			status = http.StatusConflict
		}
		writeErrorResponse(w, status, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"list_id": listID, "state": "watching"})
}

func (h *AdminHandlers) handleUnwatchList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	h.session.UnwatchList(listID)
	writeJSONResponse(w, http.StatusOK, map[string]string{"list_id": listID, "state": "unwatched"})
}

func (h *AdminHandlers) handleForeground(w http.ResponseWriter, r *http.Request) {
	var fg bool
	switch chi.URLParam(r, "state") {
	case "on", "true", "foreground":
		fg = true
	case "off", "false", "background":
		fg = false
	default:
		writeErrorResponse(w, http.StatusBadRequest, "state must be on or off")
		return
	}
	h.session.SetForeground(fg)
	writeJSONResponse(w, http.StatusOK, map[string]bool{"foreground": fg})
}
