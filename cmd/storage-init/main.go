package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"taskforge-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tables := []string{envOr("BOARDS_TABLE", "boards"), envOr("TASKS_TABLE", "tasks")}
	queues := []string{os.Getenv("ACTIVITY_QUEUE")}
	if err := storage.Provision(ctx, connStr, tables, queues); err != nil {
		log.Fatalf("provision: %v", err)
	}

	log.WithFields(log.Fields{"tables": tables, "queues": queues}).Info("storage init complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
