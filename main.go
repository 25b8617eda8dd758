package main

import (
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"dmchat/config"
	"dmchat/database"
	"dmchat/handlers"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if err := database.Initialize(cfg.DatabasePath); err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	go handlers.RunHub()
	go sweepSessions(time.Hour)

	router := handlers.NewRouter(cfg)

	log.Printf("🚀 dmchat backend starting on http://localhost:%s\n", cfg.Port)
	log.Printf("🗄️  SQLite database at %s\n", cfg.DatabasePath)
	log.Println("✅ Live queries on /ws, metrics on /metrics")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func sweepSessions(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		n, err := database.DeleteExpiredSessions()
		if err != nil {
			log.Printf("Error sweeping sessions: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("Removed %d expired sessions", n)
		}
	}
}
