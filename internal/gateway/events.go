// Package gateway - events.go streams operational events over websocket
// and serves the persisted audit trail.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// maxAuditPageSize caps GET /audit/events responses.
const maxAuditPageSize = 500

// handleEventsWS upgrades to a websocket and pushes every hub event as
// a JSON text message. The connection is write-only; a slow consumer
// loses events at the hub rather than stalling publishers.
func (g *Gateway) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket accept failed")
		return
	}

	id, events := g.hub.Subscribe()
	if id < 0 {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer g.hub.Unsubscribe(id)
	log.Debug().Int("subscriber", id).Msg("Event stream connected")

	// CloseRead hands back a context that dies when the peer goes away.
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			_ = c.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-events:
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, data); err != nil {
				log.Debug().Int("subscriber", id).Err(err).Msg("Event stream write failed")
				return
			}
		}
	}
}

// handleAuditEvents returns the newest persisted events, newest first.
func (g *Gateway) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if g.audit == nil {
		w.Header().Set(HeaderRequestID, requestID)
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:     errorBody{Class: "not_found", Message: "audit log disabled"},
			RequestID: requestID,
		})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, requestID, "limit must be a positive integer")
			return
		}
		if n > maxAuditPageSize {
			n = maxAuditPageSize
		}
		limit = n
	}

	events, err := g.audit.Recent(limit)
	if err != nil {
		w.Header().Set(HeaderRequestID, requestID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     errorBody{Class: "internal_error", Message: err.Error()},
			RequestID: requestID,
		})
		return
	}

	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"count":      len(events),
		"request_id": requestID,
	})
}
