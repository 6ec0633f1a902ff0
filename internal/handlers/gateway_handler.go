package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/services"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/session"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/whatsapp"

	"github.com/gorilla/mux"
)

// GatewayHandler serves the session lifecycle API: channel verification,
// credential submission, deploy-and-restart, pairing and utility routes.
type GatewayHandler struct {
	cfg          *config.Config
	manager      *whatsapp.SessionManager
	resolver     *session.Resolver
	verification *services.VerificationService
	tokens       *services.TokenService

	// ExitFn is called by the deploy route after the new credential set
	// is persisted. Tests swap it out; production uses os.Exit.
	ExitFn func(code int)
}

func NewGatewayHandler(cfg *config.Config, manager *whatsapp.SessionManager, resolver *session.Resolver, verification *services.VerificationService, tokens *services.TokenService) *GatewayHandler {
	return &GatewayHandler{
		cfg:          cfg,
		manager:      manager,
		resolver:     resolver,
		verification: verification,
		tokens:       tokens,
		ExitFn:       os.Exit,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// tenantID scopes a request to a tenant via an optional bearer token.
// Requests without a valid token run as the default tenant.
func (h *GatewayHandler) tenantID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "default"
	}
	claims, err := h.tokens.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil || claims.TenantID == "" {
		return "default"
	}
	return claims.TenantID
}

func (h *GatewayHandler) channelLink() string {
	return "https://whatsapp.com/channel/" + h.cfg.RequiredChannel
}

// VerifyChannel marks a session reference as having passed the
// channel-follow gate.
func (h *GatewayHandler) VerifyChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.SessionID) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "sessionId is required",
		})
		return
	}

	h.verification.Verify(strings.TrimSpace(body.SessionID))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"verified": true,
		"message":  fmt.Sprintf("Verified! You can now deploy %s.", h.cfg.SessionName),
	})
}

// CheckVerification reports the gate state for a session reference.
func (h *GatewayHandler) CheckVerification(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"verified":    h.verification.IsVerified(sessionID),
		"channelLink": h.channelLink(),
	})
}

// SetSession accepts a session reference, resolves its credential blob
// and starts the tenant's connection. Unverified references are refused
// before the resolver is ever invoked.
func (h *GatewayHandler) SetSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID    string `json:"SESSION_ID"`
		SessionIDAlt string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	token := strings.TrimSpace(body.SessionID)
	if token == "" {
		token = strings.TrimSpace(body.SessionIDAlt)
	}
	if token == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "SESSION_ID is required",
		})
		return
	}

	if !h.verification.IsVerified(token) {
		respondJSON(w, http.StatusForbidden, map[string]interface{}{
			"success":     false,
			"message":     fmt.Sprintf("Please follow our channel %s first, then verify.", h.cfg.ChannelName),
			"channelLink": h.channelLink(),
		})
		return
	}

	ref, err := session.ParseReference(token, h.cfg.ReferenceMarkers)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid SESSION_ID format",
		})
		return
	}

	tenant := h.tenantID(r)
	if err := h.resolver.FetchAndPersist(r.Context(), tenant, ref); err != nil {
		status := http.StatusInternalServerError
		if !errors.Is(err, session.ErrDownloadFailed) {
			log.Printf("ERROR: Tenant %s - Unexpected resolver failure: %v", tenant, err)
		}
		respondJSON(w, status, map[string]interface{}{
			"success": false,
			"message": "Failed to download session. Please check your SESSION_ID.",
		})
		return
	}

	if err := h.manager.StartSession(tenant, false); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to start session",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%s is starting!", h.cfg.SessionName),
	})
}

// Deploy persists a fresh credential set and restarts the whole process
// so it comes back up under the new identity. The reference must carry a
// known marker as a literal prefix, a stricter check than SetSession.
func (h *GatewayHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.SessionID) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "sessionId is required",
		})
		return
	}

	token := strings.TrimSpace(body.SessionID)
	if !session.HasStrictPrefix(token, h.cfg.ReferenceMarkers) {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid session id prefix",
		})
		return
	}

	ref, err := session.ParseReference(token, h.cfg.ReferenceMarkers)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid session id format",
		})
		return
	}

	tenant := h.tenantID(r)
	if err := h.resolver.FetchAndPersist(r.Context(), tenant, ref); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to download session",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Deploying! The gateway will restart now.",
	})

	go func() {
		// Give the response a moment to flush.
		time.Sleep(500 * time.Millisecond)
		log.Printf("DEBUG: Tenant %s - Deploy requested, restarting", tenant)
		h.ExitFn(0)
	}()
}

// PairingQR exposes the tenant's pending QR code as a base64 PNG data
// URI.
func (h *GatewayHandler) PairingQR(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenantID(r)
	sess, ok := h.manager.GetSession(tenant)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "No session for tenant",
		})
		return
	}
	payload := map[string]interface{}{
		"success":   true,
		"status":    sess.Status(),
		"connected": sess.Client.IsConnected(),
		"loggedIn":  sess.Client.IsLoggedIn(),
		"qr":        sess.QRCode(),
	}
	if at := sess.ConnectedAt(); !at.IsZero() {
		payload["connectedAt"] = at.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, payload)
}

// Logout unpairs the tenant's device and ends its session.
func (h *GatewayHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenantID(r)
	if err := h.manager.Logout(tenant); err != nil {
		if errors.Is(err, whatsapp.ErrNoSession) {
			respondJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "No session for tenant",
			})
			return
		}
		log.Printf("WARNING: Tenant %s - Logout error: %v", tenant, err)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out",
	})
}

// TenantToken issues a bearer token scoping later requests to a tenant.
func (h *GatewayHandler) TenantToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.TenantID) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "tenantId is required",
		})
		return
	}

	token, err := h.tokens.IssueTenantToken(strings.TrimSpace(body.TenantID))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to issue token",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

// NairobiTime returns the current time in the configured zone.
func (h *GatewayHandler) NairobiTime(w http.ResponseWriter, r *http.Request) {
	loc, err := time.LoadLocation(h.cfg.Timezone)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Timezone unavailable",
		})
		return
	}
	now := time.Now().In(loc)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"timezone": h.cfg.Timezone,
		"time":     now.Format("Monday, 02 Jan 2006 15:04:05"),
	})
}

// Health reports liveness plus a couple of gauges.
func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.manager.SessionCount(),
		"uptime":   h.manager.Uptime().Round(time.Second).String(),
	})
}

// Home serves the landing page.
func (h *GatewayHandler) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, landingPage, h.cfg.SessionName, h.cfg.ChannelName, h.channelLink())
}

const landingPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>%[1]s Gateway</title>
  <style>
    body { font-family: sans-serif; background: #0b141a; color: #e9edef; text-align: center; padding-top: 10%%; }
    a { color: #00a884; }
    .card { display: inline-block; background: #202c33; padding: 2em 3em; border-radius: 12px; }
  </style>
</head>
<body>
  <div class="card">
    <h1>🤖 %[1]s</h1>
    <p>The gateway is up.</p>
    <p>Follow <a href="%[3]s">%[2]s</a>, verify, then POST your SESSION_ID to /set-session.</p>
  </div>
</body>
</html>
`
