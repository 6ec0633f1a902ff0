package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/models"
	"github.com/PRO-DEVELOPER-1/cloud-host/internal/session"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	"gorm.io/gorm"
)

// ErrNoSession is returned for tenants with no live session.
var ErrNoSession = errors.New("no session for tenant")

// ClientFactory builds a Client for one tenant over the given store
// directory. Tests swap it for a mock factory.
type ClientFactory func(ctx context.Context, tenantID, storeDir string) (Client, error)

// BackoffFunc returns the delay before reconnect attempt n (1-based).
type BackoffFunc func(attempt int) time.Duration

// Session status values persisted to the database
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusLoggedOut    = "logged_out"
)

// TenantSession is one live connection attempt for a tenant. A new value
// is created for every (re)connect, so the close-handling once fires at
// most one reconnect per connection.
type TenantSession struct {
	TenantID string
	Client   Client

	mu          sync.RWMutex
	status      string
	qrCode      string
	connectedAt time.Time

	// serializes credential snapshot writes for this tenant
	credMu sync.Mutex

	loopMu sync.Mutex
	loops  map[Feature]chan struct{}

	chatMu     sync.Mutex
	lastFromMe map[types.JID]bool
	viewOnce   *viewOnceCache

	closeOnce sync.Once
}

func (s *TenantSession) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	if status == StatusConnected {
		s.connectedAt = time.Now()
		s.qrCode = ""
	}
	s.mu.Unlock()
}

func (s *TenantSession) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ConnectedAt returns when the current connection opened, zero when it
// never did.
func (s *TenantSession) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

func (s *TenantSession) QRCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrCode
}

func (s *TenantSession) setQR(code string) {
	s.mu.Lock()
	s.qrCode = code
	s.mu.Unlock()
}

// SessionManager owns every tenant session: at most one live connection
// per tenant, with teardown-before-replace when a tenant reconnects under
// a new credential blob.
type SessionManager struct {
	cfg      *config.Config
	resolver *session.Resolver
	db       *gorm.DB

	// Injectable collaborators; tests replace them before StartSession.
	Factory ClientFactory
	Backoff BackoffFunc

	router     *Router
	relay      *AIRelay
	media      *MediaRelay
	httpClient *http.Client

	startTime   time.Time
	versionOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*TenantSession
	toggles  map[string]map[Feature]bool
	attempts map[string]int
	welcomed map[string]bool
}

// NewSessionManager wires the manager against the real whatsmeow stack.
// db may be nil in tests.
func NewSessionManager(cfg *config.Config, resolver *session.Resolver, db *gorm.DB) *SessionManager {
	m := &SessionManager{
		cfg:        cfg,
		resolver:   resolver,
		db:         db,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		startTime:  time.Now(),
		sessions:   make(map[string]*TenantSession),
		toggles:    make(map[string]map[Feature]bool),
		attempts:   make(map[string]int),
		welcomed:   make(map[string]bool),
	}
	m.Factory = m.newStoreBackedClient
	m.Backoff = func(int) time.Duration { return cfg.ReconnectDelay }
	m.relay = NewAIRelay(cfg.AIEndpoints, cfg.FetchTimeout)
	m.media = NewMediaRelay(cfg, cfg.FetchTimeout)
	m.router = NewRouter(m)
	return m
}

// Uptime reports how long this process has been serving sessions.
func (m *SessionManager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// GetSession returns the live session for a tenant, if any.
func (m *SessionManager) GetSession(tenantID string) (*TenantSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (m *SessionManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSession opens a connection for the tenant, replacing any existing
// one. With interactive set and no stored identity, a QR code is exposed
// for pairing. The one-live-connection invariant is enforced here: the
// prior session is fully torn down before the new one is registered.
func (m *SessionManager) StartSession(tenantID string, interactive bool) error {
	ctx := context.Background()

	dir, err := m.resolver.TenantDir(tenantID)
	if err != nil {
		return err
	}

	m.versionOnce.Do(func() { m.negotiateVersion(ctx) })

	client, err := m.Factory(ctx, tenantID, dir)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	sess := &TenantSession{
		TenantID:   tenantID,
		Client:     client,
		status:     StatusConnecting,
		loops:      make(map[Feature]chan struct{}),
		lastFromMe: make(map[types.JID]bool),
		viewOnce:   newViewOnceCache(32),
	}

	// Handler must be registered before Connect so no event is missed.
	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(sess, evt)
	})

	m.mu.Lock()
	if prev, ok := m.sessions[tenantID]; ok && prev != sess {
		prev.stopAllLoops()
		prev.Client.Disconnect()
		log.Printf("DEBUG: Tenant %s - Replaced existing session", tenantID)
	}
	m.sessions[tenantID] = sess
	if _, ok := m.toggles[tenantID]; !ok {
		m.toggles[tenantID] = defaultToggles()
	}
	m.mu.Unlock()

	if interactive && client.GetStore().GetID() == nil {
		if qrChan, qrErr := client.GetQRChannel(ctx); qrErr == nil {
			go m.monitorQR(sess, qrChan)
		} else {
			log.Printf("WARNING: Tenant %s - QR channel unavailable: %v", tenantID, qrErr)
		}
	}

	if err := client.Connect(); err != nil {
		m.dropSession(sess)
		return fmt.Errorf("failed to connect client: %w", err)
	}

	m.saveStatus(tenantID, StatusConnecting, "")
	log.Printf("DEBUG: Tenant %s - Session starting", tenantID)
	return nil
}

// StopSession disconnects and forgets a tenant's session.
func (m *SessionManager) StopSession(tenantID string) {
	m.mu.Lock()
	sess, ok := m.sessions[tenantID]
	if ok {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.stopAllLoops()
	sess.Client.Disconnect()
	m.saveStatus(tenantID, StatusDisconnected, "")
}

// Logout unregisters the tenant's device remotely and ends the session
// for good. No reconnect follows; the tenant must pair again.
func (m *SessionManager) Logout(tenantID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[tenantID]
	if ok {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	sess.stopAllLoops()
	err := sess.Client.Logout(context.Background())
	sess.setStatus(StatusLoggedOut)
	m.saveStatus(tenantID, StatusLoggedOut, "")
	if rmErr := os.Remove(m.resolver.CredsPath(tenantID)); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Printf("WARNING: Tenant %s - Could not remove credential snapshot: %v", tenantID, rmErr)
	}
	return err
}

func (m *SessionManager) dropSession(sess *TenantSession) {
	m.mu.Lock()
	if m.sessions[sess.TenantID] == sess {
		delete(m.sessions, sess.TenantID)
	}
	m.mu.Unlock()
}

// handleEvent is the single entry point for connection events. Panics
// from any branch are contained here so the socket reader never dies.
func (m *SessionManager) handleEvent(sess *TenantSession, raw interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Tenant %s - Panic in event handler: %v", sess.TenantID, r)
		}
	}()

	switch evt := raw.(type) {
	case *events.Connected:
		m.onOpen(sess)
	case *events.PairSuccess:
		log.Printf("DEBUG: Tenant %s - Paired as %s", sess.TenantID, evt.ID)
		m.snapshotCredentials(sess)
	case *events.AppStateSyncComplete:
		if evt.Name == appstate.WAPatchCriticalBlock {
			m.snapshotCredentials(sess)
		}
	case *events.Message:
		m.router.Dispatch(sess, evt)
	case *events.LoggedOut:
		log.Printf("WARNING: Tenant %s - Logged out (%v)", sess.TenantID, evt.Reason)
		m.onClosed(sess, true)
	case *events.StreamReplaced:
		log.Printf("WARNING: Tenant %s - Stream replaced by another connection", sess.TenantID)
		m.onClosed(sess, false)
	case *events.Disconnected:
		log.Printf("WARNING: Tenant %s - Disconnected", sess.TenantID)
		m.onClosed(sess, false)
	case *events.ConnectFailure:
		terminal := evt.Reason.IsLoggedOut()
		log.Printf("WARNING: Tenant %s - Connect failure: %v", sess.TenantID, evt.Reason)
		m.onClosed(sess, terminal)
	}
}

func (m *SessionManager) onOpen(sess *TenantSession) {
	sess.setStatus(StatusConnected)

	m.mu.Lock()
	m.attempts[sess.TenantID] = 0
	first := !m.welcomed[sess.TenantID]
	m.welcomed[sess.TenantID] = true
	enabled := enabledFeatures(m.toggles[sess.TenantID])
	m.mu.Unlock()

	deviceJID := ""
	if id := sess.Client.GetStore().GetID(); id != nil {
		deviceJID = id.String()
	}
	m.saveStatus(sess.TenantID, StatusConnected, deviceJID)
	log.Printf("DEBUG: Tenant %s - Connection open (%s)", sess.TenantID, deviceJID)

	ctx := context.Background()
	if err := sess.Client.SendPresence(ctx, types.PresenceAvailable); err != nil {
		log.Printf("WARNING: Tenant %s - Presence announce failed: %v", sess.TenantID, err)
	}

	m.sendWelcome(sess, first)

	for _, f := range enabled {
		m.startFeatureLoop(sess, f)
	}
}

// sendWelcome posts the connection notice to the bot's own chat. The
// first open in a process lifetime gets the full channel-forward banner;
// reconnects get a short note.
func (m *SessionManager) sendWelcome(sess *TenantSession, first bool) {
	id := sess.Client.GetStore().GetID()
	if id == nil {
		return
	}
	self := id.ToNonAD()
	ctx := context.Background()

	if !first {
		msg := &waE2E.Message{Conversation: proto.String(fmt.Sprintf("🔄 %s reconnected.", m.cfg.SessionName))}
		if _, err := sess.Client.SendMessage(ctx, self, msg); err != nil {
			log.Printf("WARNING: Tenant %s - Reconnect notice failed: %v", sess.TenantID, err)
		}
		return
	}

	text := fmt.Sprintf(
		"✅ *%s connected!*\n\n"+
			"📡 Channel: %s\n"+
			"⏰ Time: %s\n\n"+
			"Type *menu* to see available commands.",
		m.cfg.SessionName, m.cfg.ChannelName, m.nowInZone().Format("Monday, 02 Jan 2006 15:04:05"),
	)
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				IsForwarded:     proto.Bool(true),
				ForwardingScore: proto.Uint32(999),
				ForwardedNewsletterMessageInfo: &waE2E.ContextInfo_ForwardedNewsletterMessageInfo{
					NewsletterJID:  proto.String(m.cfg.ChannelJID),
					NewsletterName: proto.String(m.cfg.ChannelName),
				},
			},
		},
	}
	if _, err := sess.Client.SendMessage(ctx, self, msg); err != nil {
		log.Printf("WARNING: Tenant %s - Welcome message failed: %v", sess.TenantID, err)
	}
}

// onClosed runs the close state machine. Terminal closes (logged out)
// end the session for good; anything else schedules exactly one
// reconnect for this connection.
func (m *SessionManager) onClosed(sess *TenantSession, terminal bool) {
	sess.closeOnce.Do(func() {
		sess.stopAllLoops()
		m.dropSession(sess)

		if terminal {
			sess.setStatus(StatusLoggedOut)
			m.saveStatus(sess.TenantID, StatusLoggedOut, "")
			if err := os.Remove(m.resolver.CredsPath(sess.TenantID)); err != nil && !os.IsNotExist(err) {
				log.Printf("WARNING: Tenant %s - Could not remove credential snapshot: %v", sess.TenantID, err)
			}
			log.Printf("WARNING: Tenant %s - Session ended, pair again to resume", sess.TenantID)
			return
		}

		sess.setStatus(StatusDisconnected)
		m.saveStatus(sess.TenantID, StatusDisconnected, "")

		m.mu.Lock()
		m.attempts[sess.TenantID]++
		attempt := m.attempts[sess.TenantID]
		m.mu.Unlock()

		go m.reconnect(sess.TenantID, attempt)
	})
}

// reconnect waits out the backoff and opens a fresh session. A failed
// open schedules another attempt, so transient closes are retried until
// the tenant logs out.
func (m *SessionManager) reconnect(tenantID string, attempt int) {
	delay := m.Backoff(attempt)
	log.Printf("DEBUG: Tenant %s - Reconnecting in %s (attempt %d)", tenantID, delay, attempt)
	time.Sleep(delay)

	m.mu.Lock()
	if _, exists := m.sessions[tenantID]; exists {
		// Someone already started a replacement (e.g. a new /set-session).
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.StartSession(tenantID, false); err != nil {
		log.Printf("ERROR: Tenant %s - Reconnect failed: %v", tenantID, err)
		m.mu.Lock()
		m.attempts[tenantID]++
		next := m.attempts[tenantID]
		m.mu.Unlock()
		go m.reconnect(tenantID, next)
	}
}

func (m *SessionManager) monitorQR(sess *TenantSession, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			png, err := qrcode.Encode(item.Code, qrcode.Medium, 256)
			if err != nil {
				log.Printf("ERROR: Tenant %s - QR encode failed: %v", sess.TenantID, err)
				continue
			}
			sess.setQR("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
		case "success":
			sess.setQR("")
		default:
			log.Printf("DEBUG: Tenant %s - QR channel event: %s", sess.TenantID, item.Event)
		}
	}
}

// snapshotCredentials mirrors the current identity into the tenant's
// creds.json. Writes are serialized per tenant so concurrent credential
// rotations cannot interleave.
func (m *SessionManager) snapshotCredentials(sess *TenantSession) {
	sess.credMu.Lock()
	defer sess.credMu.Unlock()

	snap := map[string]interface{}{
		"sessionName": m.cfg.SessionName,
		"updatedAt":   time.Now().UTC().Format(time.RFC3339),
	}
	if id := sess.Client.GetStore().GetID(); id != nil {
		snap["me"] = map[string]string{"id": id.String()}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("ERROR: Tenant %s - Credential snapshot marshal failed: %v", sess.TenantID, err)
		return
	}
	if err := os.WriteFile(m.resolver.CredsPath(sess.TenantID), data, 0o600); err != nil {
		log.Printf("ERROR: Tenant %s - Credential snapshot write failed: %v", sess.TenantID, err)
		return
	}
	log.Printf("DEBUG: Tenant %s - Credential snapshot flushed", sess.TenantID)
}

// negotiateVersion asks the discovery endpoint for the current protocol
// version and falls back to the pinned default on any failure.
func (m *SessionManager) negotiateVersion(ctx context.Context) {
	version := store.WAVersionContainer(m.cfg.DefaultVersion)
	defer func() {
		store.SetWAVersion(version)
		log.Printf("DEBUG: Using protocol version %s", version)
	}()

	if m.cfg.VersionURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.VersionURL, nil)
	if err != nil {
		return
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Printf("WARNING: Version discovery failed, using default: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("WARNING: Version discovery returned status %d, using default", resp.StatusCode)
		return
	}

	var body struct {
		CurrentVersion string `json:"currentVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("WARNING: Version discovery decode failed, using default: %v", err)
		return
	}

	parts := strings.Split(body.CurrentVersion, ".")
	if len(parts) != 3 {
		return
	}
	var parsed [3]uint32
	for i, p := range parts {
		n, convErr := strconv.ParseUint(p, 10, 32)
		if convErr != nil {
			return
		}
		parsed[i] = uint32(n)
	}
	version = store.WAVersionContainer(parsed)
}

// nowInZone returns the current time in the configured timezone, falling
// back to UTC when the zone database misses it.
func (m *SessionManager) nowInZone() time.Time {
	loc, err := time.LoadLocation(m.cfg.Timezone)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Now().In(loc)
}

// saveStatus upserts the tenant's row in gateway_sessions. Persistence is
// best effort; the in-memory map stays authoritative.
func (m *SessionManager) saveStatus(tenantID, status, deviceJID string) {
	if m.db == nil {
		return
	}

	var rec models.GatewaySession
	err := m.db.Where("tenant_id = ?", tenantID).First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec = models.GatewaySession{
			TenantID:     tenantID,
			Status:       status,
			DeviceJID:    deviceJID,
			LastActivity: time.Now(),
		}
		if createErr := m.db.Create(&rec).Error; createErr != nil {
			log.Printf("WARNING: Tenant %s - Failed to create session row: %v", tenantID, createErr)
		}
	case err != nil:
		log.Printf("WARNING: Tenant %s - Failed to load session row: %v", tenantID, err)
	default:
		updates := map[string]interface{}{
			"status":        status,
			"last_activity": time.Now(),
		}
		if deviceJID != "" {
			updates["device_jid"] = deviceJID
		}
		if updateErr := m.db.Model(&rec).Updates(updates).Error; updateErr != nil {
			log.Printf("WARNING: Tenant %s - Failed to update session row: %v", tenantID, updateErr)
		}
	}
}
