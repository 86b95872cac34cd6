package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/agenticai/healthguard/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// workflowEventsHandler upgrades the connection and streams status
// transitions for one workflow. Only transitions after the upgrade are
// delivered; callers wanting history hit the status endpoint first.
func (s *Server) workflowEventsHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]
	if workflowID == "" {
		s.sendError(w, http.StatusBadRequest, "Workflow id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	notify.NewClient(s.hub, conn, workflowID)
}
