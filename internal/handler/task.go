package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/mission"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/recurrence"
	"github.com/kulinotech/starhabit/internal/store"
	"github.com/kulinotech/starhabit/internal/websocket"
)

type TaskHandler struct {
	tasks    *store.TaskStore
	children *store.ChildStore
	logs     *store.LogStore
	hub      *websocket.Hub
}

func NewTaskHandler(ts *store.TaskStore, cs *store.ChildStore, ls *store.LogStore, hub *websocket.Hub) *TaskHandler {
	return &TaskHandler{tasks: ts, children: cs, logs: ls, hub: hub}
}

func (h *TaskHandler) broadcast(evt websocket.Event) {
	if h.hub != nil {
		h.hub.Broadcast(evt)
	}
}

type taskRequest struct {
	Name                 string  `json:"name"`
	RewardValue          int     `json:"reward_value"`
	RecurrenceRule       string  `json:"recurrence_rule"`
	AssignedTo           []int64 `json:"assigned_to"`
	NextDueDate          string  `json:"next_due_date"`
	ExpiryTime           string  `json:"expiry_time"`
	MaxCompletionsPerDay int     `json:"max_completions_per_day"`
	TotalTargetValue     int     `json:"total_target_value"`
	TargetUnit           string  `json:"target_unit"`
}

func (h *TaskHandler) validate(req *taskRequest) string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name is required"
	}
	if req.RewardValue < 0 {
		return "reward_value must not be negative"
	}
	if req.ExpiryTime != "" {
		if _, err := dates.ParseClock(req.ExpiryTime); err != nil {
			return "expiry_time must be HH:MM"
		}
	}
	if req.NextDueDate != "" {
		if _, err := dates.ParseKey(req.NextDueDate); err != nil {
			return "next_due_date must be YYYY-MM-DD"
		}
	}
	rule := recurrence.Parse(req.RecurrenceRule)
	if rule.IsOnce() && req.NextDueDate == "" {
		return "one-shot tasks need a next_due_date"
	}
	for _, childID := range req.AssignedTo {
		child, err := h.children.GetByID(childID)
		if err != nil {
			return "failed to check child"
		}
		if child == nil {
			return "assigned child not found"
		}
	}
	return ""
}

func (h *TaskHandler) toTask(req taskRequest) model.Task {
	rule := recurrence.Parse(req.RecurrenceRule)
	next := req.NextDueDate
	if next == "" && !rule.IsOnce() {
		next = recurrence.NextDueDate(recurrence.Generate(rule), "")
	}
	return model.Task{
		Name:                 req.Name,
		RewardValue:          req.RewardValue,
		RecurrenceRule:       recurrence.Generate(rule),
		Active:               true,
		AssignedTo:           req.AssignedTo,
		NextDueDate:          next,
		ExpiryTime:           req.ExpiryTime,
		MaxCompletionsPerDay: req.MaxCompletionsPerDay,
		TotalTargetValue:     req.TotalTargetValue,
		TargetUnit:           req.TargetUnit,
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := h.validate(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Create(h.toTask(req))
	if err != nil {
		log.Printf("failed to create task: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	h.broadcast(websocket.NewEvent(websocket.EntityTask, "created", formatID(task.ID), nil))

	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []model.Task
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		tasks, err = h.tasks.ListActive()
	} else {
		tasks, err = h.tasks.List()
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := h.validate(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Update(id, h.toTask(req))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}

	h.broadcast(websocket.NewEvent(websocket.EntityTask, "updated", formatID(id), nil))

	writeJSON(w, http.StatusOK, task)
}

// Archive retires a task. Logs and ledger history stay intact, so this is a
// soft delete.
func (h *TaskHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if err := h.tasks.Archive(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to archive task"})
		return
	}

	h.broadcast(websocket.NewEvent(websocket.EntityTask, "archived", formatID(id), nil))

	w.WriteHeader(http.StatusNoContent)
}

// Missions returns the child's active tasks decorated with their state for
// today. This is the payload behind the kid-facing dashboard.
func (h *TaskHandler) Missions(w http.ResponseWriter, r *http.Request) {
	childID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	child, err := h.children.GetByID(childID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get child"})
		return
	}
	if child == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "child not found"})
		return
	}

	tasks, err := h.tasks.ListActive()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}

	now := time.Now()
	logs, err := h.logs.ListForChildOnDay(childID, now)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list logs"})
		return
	}
	byTask := make(map[int64][]model.TaskLog)
	for _, l := range logs {
		byTask[l.TaskID] = append(byTask[l.TaskID], l)
	}

	missions := []mission.TaskWithStatus{}
	for _, task := range tasks {
		assigned := false
		for _, id := range task.AssignedTo {
			if id == childID {
				assigned = true
				break
			}
		}
		if !assigned {
			continue
		}
		missions = append(missions, mission.TaskWithStatus{
			Task:      task,
			Status:    mission.ComputeStatus(task, byTask[task.ID], now),
			ChildID:   childID,
			TodayLogs: byTask[task.ID],
		})
	}

	writeJSON(w, http.StatusOK, missions)
}
