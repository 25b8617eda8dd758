package handler

import (
	"log"
	"net/http"
	"os"
	"sync"

	"dmchat/config"
	"dmchat/database"
	"dmchat/handlers"
)

var (
	once    sync.Once
	router  http.Handler
	initErr error
)

// Handler is the serverless function entry point for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		log.Printf("Backend unavailable: %v", initErr)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "Backend not configured", "code": "app/unavailable"}`))
		return
	}
	router.ServeHTTP(w, r)
}

func setup() {
	cfg, err := config.LoadServer()
	if err != nil {
		initErr = err
		return
	}
	// Serverless filesystems are read-only outside /tmp
	if os.Getenv("DATABASE_PATH") == "" {
		cfg.DatabasePath = "/tmp/dmchat.db"
	}
	if err := database.Initialize(cfg.DatabasePath); err != nil {
		initErr = err
		return
	}
	go handlers.RunHub()
	router = handlers.NewRouter(cfg)
}
