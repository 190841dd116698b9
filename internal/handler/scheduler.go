package handler

import (
	"log"
	"net/http"

	"github.com/kulinotech/starhabit/internal/mission"
)

// SchedulerHandler triggers missed-occurrence scans on demand. The server
// also runs one at startup; this endpoint lets clients force a catch-up
// when they come to the foreground.
type SchedulerHandler struct {
	scheduler *mission.Scheduler
}

func NewSchedulerHandler(s *mission.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

func (h *SchedulerHandler) Check(w http.ResponseWriter, r *http.Request) {
	failed, err := h.scheduler.Run(r.Context())
	if err != nil {
		log.Printf("scheduler run failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "scheduler run failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"failed": failed})
}
