package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/kulinotech/starhabit/internal/mission"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/store"
	"github.com/kulinotech/starhabit/internal/websocket"
)

// LogHandler owns the mission log lifecycle: completion, verification,
// exemptions and corrections.
type LogHandler struct {
	logs      *store.LogStore
	tasks     *store.TaskStore
	children  *store.ChildStore
	scheduler *mission.Scheduler
	hub       *websocket.Hub
}

func NewLogHandler(ls *store.LogStore, ts *store.TaskStore, cs *store.ChildStore, sched *mission.Scheduler, hub *websocket.Hub) *LogHandler {
	return &LogHandler{logs: ls, tasks: ts, children: cs, scheduler: sched, hub: hub}
}

func (h *LogHandler) broadcast(evt websocket.Event) {
	if h.hub != nil {
		h.hub.Broadcast(evt)
	}
}

// broadcastBalance pushes the child's fresh balance to connected clients.
func (h *LogHandler) broadcastBalance(childID int64) {
	if h.hub == nil {
		return
	}
	child, err := h.children.GetByID(childID)
	if err != nil || child == nil {
		return
	}
	h.hub.Broadcast(websocket.BalanceEvent(childID, child.CurrentBalance))
}

// Complete records that a child finished (or started, for progress
// missions) a task occurrence today.
func (h *LogHandler) Complete(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		ChildID int64 `json:"child_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.tasks.GetByID(taskID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	logEntry, err := h.logs.CompleteTask(req.ChildID, taskID)
	if err != nil {
		log.Printf("failed to complete task %d: %v", taskID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to complete task"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task cannot be completed again today"})
		return
	}

	h.broadcast(websocket.LogEvent("created", logEntry.ID, logEntry.ChildID))

	writeJSON(w, http.StatusCreated, logEntry)
}

// Progress adds to a cumulative mission's running value. Reaching the
// target promotes the log to PENDING for parent review.
func (h *LogHandler) Progress(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	var req struct {
		Value int `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Value < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value must not be negative"})
		return
	}

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	task, err := h.tasks.GetByID(logEntry.TaskID)
	if err != nil || task == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}

	updated, err := h.logs.UpdateProgress(logID, req.Value, task.TotalTargetValue)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update progress"})
		return
	}
	if updated == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "log is not in progress"})
		return
	}

	h.broadcast(websocket.LogEvent("progress", logID, updated.ChildID))

	writeJSON(w, http.StatusOK, updated)
}

// Verify approves a pending completion. Stars are granted, the streak
// advances and the task's next due date moves forward. Verifying an
// already verified log is a no-op.
func (h *LogHandler) Verify(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}
	if logEntry.Status == model.StatusVerified {
		writeJSON(w, http.StatusOK, logEntry)
		return
	}

	task, err := h.tasks.GetByID(logEntry.TaskID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	reward := 0
	if task != nil {
		reward = task.RewardValue
	}

	ok, err := h.logs.VerifyLog(logID, logEntry.ChildID, reward)
	if err != nil {
		log.Printf("failed to verify log %s: %v", logID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to verify log"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	if err := h.scheduler.RecordVerified(logEntry.TaskID, logID); err != nil {
		log.Printf("failed to update streak for task %d: %v", logEntry.TaskID, err)
	}

	h.broadcast(websocket.LogEvent("verified", logID, logEntry.ChildID))
	h.broadcastBalance(logEntry.ChildID)

	updated, _ := h.logs.GetByID(logID)
	writeJSON(w, http.StatusOK, updated)
}

// Reject sends a pending completion back with a reason. The day's slot is
// freed so the child can try again.
func (h *LogHandler) Reject(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	if _, err := h.logs.RejectLog(logID, strings.TrimSpace(req.Reason)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reject log"})
		return
	}

	h.broadcast(websocket.LogEvent("rejected", logID, logEntry.ChildID))

	updated, _ := h.logs.GetByID(logID)
	writeJSON(w, http.StatusOK, updated)
}

// Excuse files an exemption request for today's occurrence of a task.
func (h *LogHandler) Excuse(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		ChildID int64  `json:"child_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	logEntry, err := h.logs.SubmitExemption(req.ChildID, taskID, req.Reason)
	if err != nil {
		log.Printf("failed to submit exemption for task %d: %v", taskID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to submit exemption"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task or child not found"})
		return
	}

	h.broadcast(websocket.LogEvent("excuse_requested", logEntry.ID, logEntry.ChildID))

	writeJSON(w, http.StatusCreated, logEntry)
}

// ApproveExcuse grants an exemption. No stars are awarded but the streak
// survives and the task schedules forward as if completed.
func (h *LogHandler) ApproveExcuse(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	ok, err := h.logs.ApproveExemption(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to approve exemption"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "log is not awaiting an exemption decision"})
		return
	}

	h.broadcast(websocket.LogEvent("excused", logID, logEntry.ChildID))

	updated, _ := h.logs.GetByID(logID)
	writeJSON(w, http.StatusOK, updated)
}

// RejectExcuse declines an exemption request. The occurrence counts as
// missed.
func (h *LogHandler) RejectExcuse(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	ok, err := h.logs.RejectExemption(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reject exemption"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "log is not awaiting an exemption decision"})
		return
	}

	h.broadcast(websocket.LogEvent("excuse_rejected", logID, logEntry.ChildID))

	updated, _ := h.logs.GetByID(logID)
	writeJSON(w, http.StatusOK, updated)
}

// Fail reverses a mistaken verification. The stars granted for the log are
// clawed back through a compensating transaction.
func (h *LogHandler) Fail(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	ok, err := h.logs.MarkVerifiedAsFailed(logID, logEntry.TaskID)
	if err != nil {
		log.Printf("failed to mark log %s failed: %v", logID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to mark log failed"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "only verified logs can be failed"})
		return
	}

	h.broadcast(websocket.LogEvent("failed", logID, logEntry.ChildID))
	h.broadcastBalance(logEntry.ChildID)

	updated, _ := h.logs.GetByID(logID)
	writeJSON(w, http.StatusOK, updated)
}

// Delete removes a log entirely, reversing any stars it granted.
func (h *LogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	logEntry, err := h.logs.GetByID(logID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get log"})
		return
	}
	if logEntry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not found"})
		return
	}

	if _, err := h.logs.DeleteLog(logID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete log"})
		return
	}

	h.broadcast(websocket.LogEvent("deleted", logID, logEntry.ChildID))
	h.broadcastBalance(logEntry.ChildID)

	w.WriteHeader(http.StatusNoContent)
}

// List returns recent logs, optionally filtered to one child.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var (
		logs []model.TaskLog
		err  error
	)
	if s := r.URL.Query().Get("child_id"); s != "" {
		childID, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child_id"})
			return
		}
		logs, err = h.logs.ListForChild(childID, limit)
	} else {
		logs, err = h.logs.ListRecent(limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list logs"})
		return
	}
	if logs == nil {
		logs = []model.TaskLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// Verifications lists completions waiting for parent review.
func (h *LogHandler) Verifications(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.logs.PendingVerifications()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list verifications"})
		return
	}
	if reqs == nil {
		reqs = []model.VerificationRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// Excuses lists exemption requests waiting for a decision.
func (h *LogHandler) Excuses(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.logs.PendingExcuses()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list excuses"})
		return
	}
	if reqs == nil {
		reqs = []model.VerificationRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}
