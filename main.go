package main

import (
	"bufio"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/database"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/handlers"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/services"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/session"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/whatsapp"

	"github.com/gorilla/mux"
)

// loadEnvFile loads environment variables from a file
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // File doesn't exist, skip silently
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	}

	log.Printf("DEBUG: Loaded environment from %s", filename)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	log.Println("DEBUG: Starting gateway...")

	// Load environment variables from .env file
	loadEnvFile(".env")
	loadEnvFile("env.production")
	loadEnvFile("env.local")

	cfg := config.Load()

	log.Println("DEBUG: Initializing database...")
	database.InitDatabase()
	log.Println("DEBUG: Database initialized successfully")

	resolver := session.NewResolver(cfg.BlobBaseURL, cfg.SessionRoot, cfg.FetchTimeout)
	manager := whatsapp.NewSessionManager(cfg, resolver, database.GetDB())
	verification := services.NewVerificationService(database.GetDB())
	tokens := services.NewTokenService(cfg.JWTSecret)

	gateway := handlers.NewGatewayHandler(cfg, manager, resolver, verification, tokens)

	// Resume the default tenant when a credential snapshot is already on
	// disk from a previous run.
	if _, err := os.Stat(resolver.CredsPath("default")); err == nil {
		log.Println("DEBUG: Found existing credentials, resuming default session")
		if err := manager.StartSession("default", false); err != nil {
			log.Printf("ERROR: Could not resume default session: %v", err)
		}
	}

	r := mux.NewRouter()

	// Verification gate
	r.HandleFunc("/verify-channel", gateway.VerifyChannel).Methods("POST")
	r.HandleFunc("/check-verification/{sessionId}", gateway.CheckVerification).Methods("GET")

	// Session lifecycle
	r.HandleFunc("/set-session", gateway.SetSession).Methods("POST")
	r.HandleFunc("/deploy", gateway.Deploy).Methods("POST")
	r.HandleFunc("/pairing-qr", gateway.PairingQR).Methods("GET")
	r.HandleFunc("/logout", gateway.Logout).Methods("POST")
	r.HandleFunc("/tenant-token", gateway.TenantToken).Methods("POST")

	// Utility
	r.HandleFunc("/nairobi-time", gateway.NairobiTime).Methods("GET")
	r.HandleFunc("/api/health", gateway.Health).Methods("GET")
	r.HandleFunc("/", gateway.Home).Methods("GET")

	handler := corsMiddleware(r)

	log.Printf("🚀 %s gateway started on :%s", cfg.SessionName, cfg.Port)
	log.Println("📡 Available endpoints:")
	log.Println("      POST /verify-channel            - Verify channel follow")
	log.Println("      GET  /check-verification/{id}   - Check verification state")
	log.Println("      POST /set-session               - Submit SESSION_ID and connect")
	log.Println("      POST /deploy                    - Persist credentials and restart")
	log.Println("      GET  /pairing-qr                - Pending pairing QR")
	log.Println("      POST /logout                    - Unpair and end session")
	log.Println("      POST /tenant-token              - Issue tenant bearer token")
	log.Println("      GET  /nairobi-time              - Current Nairobi time")
	log.Println("      GET  /api/health                - Health check")

	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
