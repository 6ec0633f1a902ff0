package whatsapp

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// Feature names a toggleable background behavior or gate.
type Feature string

const (
	FeatureAlwaysOnline  Feature = "alwaysonline"
	FeatureAutoTyping    Feature = "autotyping"
	FeatureAutoRecording Feature = "autorecording"
	FeatureDeepseek      Feature = "deepseek"
)

// loopFeatures are the features backed by a background loop. Deepseek is
// a gate checked at dispatch time, not a loop.
var loopFeatures = []Feature{FeatureAlwaysOnline, FeatureAutoTyping, FeatureAutoRecording}

func defaultToggles() map[Feature]bool {
	return map[Feature]bool{
		FeatureAlwaysOnline:  false,
		FeatureAutoTyping:    false,
		FeatureAutoRecording: false,
		FeatureDeepseek:      true,
	}
}

func enabledFeatures(toggles map[Feature]bool) []Feature {
	var out []Feature
	for _, f := range loopFeatures {
		if toggles[f] {
			out = append(out, f)
		}
	}
	return out
}

// FeatureEnabled reports the current state of a tenant's toggle.
func (m *SessionManager) FeatureEnabled(tenantID string, f Feature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toggles[tenantID][f]
}

// FeatureStates returns a stable-ordered snapshot of a tenant's toggles.
func (m *SessionManager) FeatureStates(tenantID string) []struct {
	Feature Feature
	Enabled bool
} {
	m.mu.Lock()
	toggles := m.toggles[tenantID]
	if toggles == nil {
		toggles = defaultToggles()
	}
	snapshot := make(map[Feature]bool, len(toggles))
	for f, on := range toggles {
		snapshot[f] = on
	}
	m.mu.Unlock()

	names := make([]string, 0, len(snapshot))
	for f := range snapshot {
		names = append(names, string(f))
	}
	sort.Strings(names)

	out := make([]struct {
		Feature Feature
		Enabled bool
	}, 0, len(names))
	for _, n := range names {
		out = append(out, struct {
			Feature Feature
			Enabled bool
		}{Feature(n), snapshot[Feature(n)]})
	}
	return out
}

// EnableFeature turns a toggle on. For loop features the loop starts
// immediately on the live session; enabling an already-enabled feature
// replaces its loop rather than stacking a second one.
func (m *SessionManager) EnableFeature(tenantID string, f Feature) {
	m.mu.Lock()
	if _, ok := m.toggles[tenantID]; !ok {
		m.toggles[tenantID] = defaultToggles()
	}
	m.toggles[tenantID][f] = true
	sess := m.sessions[tenantID]
	m.mu.Unlock()

	if sess != nil {
		m.startFeatureLoop(sess, f)
	}
}

// DisableFeature turns a toggle off and stops its loop. Disabling a
// disabled feature is a no-op.
func (m *SessionManager) DisableFeature(tenantID string, f Feature) {
	m.mu.Lock()
	if _, ok := m.toggles[tenantID]; !ok {
		m.toggles[tenantID] = defaultToggles()
	}
	m.toggles[tenantID][f] = false
	sess := m.sessions[tenantID]
	m.mu.Unlock()

	if sess != nil {
		sess.stopLoop(f)
	}
}

// startFeatureLoop launches the background loop for a feature on one
// session. Any prior loop for the same feature is stopped first.
func (m *SessionManager) startFeatureLoop(sess *TenantSession, f Feature) {
	var run func(sess *TenantSession, stop <-chan struct{})
	switch f {
	case FeatureAlwaysOnline:
		run = m.alwaysOnlineLoop
	case FeatureAutoTyping:
		run = func(s *TenantSession, stop <-chan struct{}) {
			m.presencePulseLoop(s, stop, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		}
	case FeatureAutoRecording:
		run = func(s *TenantSession, stop <-chan struct{}) {
			m.presencePulseLoop(s, stop, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
		}
	default:
		return
	}

	sess.loopMu.Lock()
	if old, ok := sess.loops[f]; ok {
		close(old)
	}
	stop := make(chan struct{})
	sess.loops[f] = stop
	sess.loopMu.Unlock()

	go run(sess, stop)
	log.Printf("DEBUG: Tenant %s - Feature %s loop started", sess.TenantID, f)
}

func (s *TenantSession) stopLoop(f Feature) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if stop, ok := s.loops[f]; ok {
		close(stop)
		delete(s.loops, f)
	}
}

func (s *TenantSession) stopAllLoops() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	for f, stop := range s.loops {
		close(stop)
		delete(s.loops, f)
	}
}

// alwaysOnlineLoop re-announces available presence on a fixed cadence so
// the account shows online around the clock. Failures are logged and the
// loop keeps its schedule.
func (m *SessionManager) alwaysOnlineLoop(sess *TenantSession, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.AlwaysOnlineInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sess.Client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
				log.Printf("WARNING: Tenant %s - Always-online tick failed: %v", sess.TenantID, err)
			}
		}
	}
}

// presencePulseLoop periodically picks a random direct chat whose last
// message was not ours and shows a short typing or recording indicator
// there. Empty candidate sets and send failures just skip the tick.
func (m *SessionManager) presencePulseLoop(sess *TenantSession, stop <-chan struct{}, state types.ChatPresence, media types.ChatPresenceMedia) {
	ticker := time.NewTicker(m.cfg.AutoPresenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			target, ok := m.pickPulseTarget(sess)
			if !ok {
				continue
			}
			ctx := context.Background()
			if err := sess.Client.SendChatPresence(ctx, target, state, media); err != nil {
				log.Printf("WARNING: Tenant %s - Presence pulse failed: %v", sess.TenantID, err)
				continue
			}
			select {
			case <-stop:
				return
			case <-time.After(m.cfg.PresencePulse):
			}
			if err := sess.Client.SendChatPresence(ctx, target, types.ChatPresencePaused, media); err != nil {
				log.Printf("WARNING: Tenant %s - Presence pause failed: %v", sess.TenantID, err)
			}
		}
	}
}

// pickPulseTarget picks a random direct-chat contact that did not just
// hear from us.
func (m *SessionManager) pickPulseTarget(sess *TenantSession) (types.JID, bool) {
	contacts, err := sess.Client.GetStore().GetContacts().GetAllContacts(context.Background())
	if err != nil {
		log.Printf("WARNING: Tenant %s - Contact list unavailable: %v", sess.TenantID, err)
		return types.JID{}, false
	}

	self := sess.Client.GetStore().GetID()

	sess.chatMu.Lock()
	var candidates []types.JID
	for jid := range contacts {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		if self != nil && jid.User == self.User {
			continue
		}
		if sess.lastFromMe[jid.ToNonAD()] {
			continue
		}
		candidates = append(candidates, jid.ToNonAD())
	}
	sess.chatMu.Unlock()

	if len(candidates) == 0 {
		return types.JID{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}
