package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kulinotech/starhabit/internal/database"
	"github.com/kulinotech/starhabit/internal/logging"
	"github.com/kulinotech/starhabit/internal/server"
)

func main() {
	port := os.Getenv("STARHABIT_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("STARHABIT_DB_PATH")
	if dbPath == "" {
		dbPath = "starhabit.db"
	}

	logger := logging.Setup(os.Getenv("STARHABIT_LOG_LEVEL"), os.Getenv("STARHABIT_LOG_FORMAT"))

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.New(db, logger)

	// Catch up on occurrences missed while the server was down before
	// accepting traffic.
	if failed, err := srv.Scheduler().Run(context.Background()); err != nil {
		logger.Error("startup scan failed", "error", err)
	} else if failed > 0 {
		logger.Info("startup scan backfilled missed occurrences", "failed", failed)
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("StarHabit running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
