package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/collab"
	"github.com/shopwise/listsync/permission"
	"github.com/shopwise/listsync/subscription"
)

// Responder answers a pending permission prompt. The headless platform
// implements it; native platforms answer through the OS dialog instead.
type Responder interface {
	Respond(s permission.Status)
}

// AdminHandlers exposes the realtime session over HTTP
type AdminHandlers struct {
	ctx       context.Context
	session   *collab.Session
	manager   *subscription.Manager
	gate      *permission.Gate
	responder Responder
}

// NewAdminHandlers creates a new AdminHandlers instance. Permission prompts
// started over HTTP live until ctx ends. responder may be nil.
func NewAdminHandlers(ctx context.Context, session *collab.Session, manager *subscription.Manager, gate *permission.Gate, responder Responder) *AdminHandlers {
	return &AdminHandlers{
		ctx:       ctx,
		session:   session,
		manager:   manager,
		gate:      gate,
		responder: responder,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
