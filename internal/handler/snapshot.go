package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/store"
	"github.com/kulinotech/starhabit/internal/websocket"
)

// SnapshotHandler exports and imports the whole dataset as JSON, for
// moving a household to a new device.
type SnapshotHandler struct {
	snapshots *store.SnapshotStore
	hub       *websocket.Hub
}

func NewSnapshotHandler(ss *store.SnapshotStore, hub *websocket.Hub) *SnapshotHandler {
	return &SnapshotHandler{snapshots: ss, hub: hub}
}

func (h *SnapshotHandler) Export(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Export()
	if err != nil {
		log.Printf("failed to export snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to export snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Import replaces everything with the uploaded snapshot. Validation
// failures report a machine-readable code so the client can explain what
// is wrong with the file.
func (h *SnapshotHandler) Import(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.snapshots.Import(&snap); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, verr)
			return
		}
		log.Printf("failed to import snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to import snapshot"})
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.NewEvent(websocket.EntitySnapshot, "imported", "", nil))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
