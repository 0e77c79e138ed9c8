package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"dockwave-backend/internal/middleware"
	"dockwave-backend/pkg/utils"
)

// DiagnosticLog represents a diagnostic log from the driver app
type DiagnosticLog struct {
	Timestamp string                 `json:"timestamp"`
	Context   string                 `json:"context"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Platform  string                 `json:"platform"`
}

// ReceiveDiagnosticLog handles diagnostic logs from the driver app
// POST /api/driver/logs/diagnostic
func ReceiveDiagnosticLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var logEntry DiagnosticLog
		if err := json.NewDecoder(r.Body).Decode(&logEntry); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		userClaims, _ := middleware.GetUserFromContext(r)

		prefix := "📱"
		switch logEntry.Level {
		case "ERROR":
			prefix = "🔴"
		case "WARNING":
			prefix = "🟡"
		case "INFO":
			prefix = "🔵"
		}

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("%s DRIVER APP DIAGNOSTIC [%s]", prefix, logEntry.Level)
		log.Printf("   Driver:    %s", userClaims.UserID)
		log.Printf("   Platform:  %s", logEntry.Platform)
		log.Printf("   Context:   %s", logEntry.Context)
		log.Printf("   Timestamp: %s", logEntry.Timestamp)
		log.Printf("   Message:   %s", logEntry.Message)
		if len(logEntry.Data) > 0 {
			log.Println("   Data:")
			dataJSON, err := json.MarshalIndent(logEntry.Data, "      ", "  ")
			if err == nil {
				log.Printf("      %s", string(dataJSON))
			}
		}
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "received",
		})
	}
}

// CollectStats gathers the counters of every running component
func CollectStats(d Deps) map[string]interface{} {
	stats := make(map[string]interface{})
	if d.Reconciler != nil {
		stats["reconciler"] = d.Reconciler.GetStats()
	}
	if d.Evaluator != nil {
		stats["geofence"] = d.Evaluator.GetStats()
	}
	if d.Ingestor != nil {
		stats["ingest"] = d.Ingestor.GetStats()
	}
	if d.Broker != nil {
		stats["observe"] = d.Broker.GetStats()
	}
	if d.Hub != nil {
		stats["websocket"] = d.Hub.GetStats()
	}
	return stats
}

// GetDiagnostics returns component counters
// GET /api/dispatcher/diagnostics
func GetDiagnostics(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondData(w, http.StatusOK, CollectStats(d))
	}
}
