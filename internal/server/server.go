package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kulinotech/starhabit/internal/handler"
	"github.com/kulinotech/starhabit/internal/middleware"
	"github.com/kulinotech/starhabit/internal/mission"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/store"
	ws "github.com/kulinotech/starhabit/internal/websocket"
)

type Server struct {
	db         *sql.DB
	hub        *ws.Hub
	scheduler  *mission.Scheduler
	childH     *handler.ChildHandler
	taskH      *handler.TaskHandler
	logH       *handler.LogHandler
	ledgerH    *handler.LedgerHandler
	rewardH    *handler.RewardHandler
	schedulerH *handler.SchedulerHandler
	snapshotH  *handler.SnapshotHandler
	logger     *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	childStore := store.NewChildStore(db)
	taskStore := store.NewTaskStore(db)
	logStore := store.NewLogStore(db)
	ledgerStore := store.NewLedgerStore(db)
	rewardStore := store.NewRewardStore(db)
	settingsStore := store.NewSettingsStore(db)
	snapshotStore := store.NewSnapshotStore(db)

	scheduler := mission.NewScheduler(logStore, taskStore, childStore, settingsStore, logger)
	scheduler.OnFailed = func(logs []model.TaskLog) {
		for _, l := range logs {
			hub.Broadcast(ws.LogEvent("failed", l.ID, l.ChildID))
		}
	}

	return &Server{
		db:         db,
		hub:        hub,
		scheduler:  scheduler,
		childH:     handler.NewChildHandler(childStore, hub),
		taskH:      handler.NewTaskHandler(taskStore, childStore, logStore, hub),
		logH:       handler.NewLogHandler(logStore, taskStore, childStore, scheduler, hub),
		ledgerH:    handler.NewLedgerHandler(ledgerStore, childStore, rewardStore, hub),
		rewardH:    handler.NewRewardHandler(rewardStore, hub),
		schedulerH: handler.NewSchedulerHandler(scheduler),
		snapshotH:  handler.NewSnapshotHandler(snapshotStore, hub),
		logger:     logger,
	}
}

// Scheduler exposes the missed-occurrence scanner so main can run the
// startup catch-up scan.
func (s *Server) Scheduler() *mission.Scheduler {
	return s.scheduler
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Children
	mux.HandleFunc("POST /api/children", s.childH.Create)
	mux.HandleFunc("GET /api/children", s.childH.List)
	mux.HandleFunc("GET /api/children/{id}", s.childH.Get)
	mux.HandleFunc("PUT /api/children/{id}", s.childH.Update)
	mux.HandleFunc("DELETE /api/children/{id}", s.childH.Delete)
	mux.HandleFunc("GET /api/children/{id}/missions", s.taskH.Missions)
	mux.HandleFunc("POST /api/children/{id}/adjust", s.ledgerH.Adjust)

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Archive)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.logH.Complete)
	mux.HandleFunc("POST /api/tasks/{id}/excuse", s.logH.Excuse)

	// Logs
	mux.HandleFunc("GET /api/logs", s.logH.List)
	mux.HandleFunc("POST /api/logs/{id}/progress", s.logH.Progress)
	mux.HandleFunc("POST /api/logs/{id}/verify", s.logH.Verify)
	mux.HandleFunc("POST /api/logs/{id}/reject", s.logH.Reject)
	mux.HandleFunc("POST /api/logs/{id}/excuse/approve", s.logH.ApproveExcuse)
	mux.HandleFunc("POST /api/logs/{id}/excuse/reject", s.logH.RejectExcuse)
	mux.HandleFunc("POST /api/logs/{id}/fail", s.logH.Fail)
	mux.HandleFunc("DELETE /api/logs/{id}", s.logH.Delete)
	mux.HandleFunc("GET /api/verifications", s.logH.Verifications)
	mux.HandleFunc("GET /api/excuses", s.logH.Excuses)

	// Ledger
	mux.HandleFunc("GET /api/transactions", s.ledgerH.List)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.ledgerH.Delete)
	mux.HandleFunc("GET /api/redemptions", s.ledgerH.Redemptions)

	// Rewards
	mux.HandleFunc("POST /api/rewards", s.rewardH.Create)
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("PUT /api/rewards/{id}", s.rewardH.Update)
	mux.HandleFunc("DELETE /api/rewards/{id}", s.rewardH.Delete)
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.ledgerH.Redeem)

	// Scheduler
	mux.HandleFunc("POST /api/scheduler/check", s.schedulerH.Check)

	// Snapshot export/import
	mux.HandleFunc("GET /api/snapshot", s.snapshotH.Export)
	mux.HandleFunc("POST /api/snapshot", s.snapshotH.Import)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.Handler(s.hub))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
