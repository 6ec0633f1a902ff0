package whatsapp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// handleCommand runs the command table over direct-chat text. Group and
// status-broadcast traffic never reaches it; unmatched text from a
// privileged sender falls through to the AI relay, everything else is
// dropped silently.
func (r *Router) handleCommand(sess *TenantSession, evt *events.Message) {
	if evt.Info.Chat == types.StatusBroadcastJID || evt.Info.Chat.Server == types.GroupServer {
		return
	}

	raw := strings.TrimSpace(messageText(evt.Message))
	if raw == "" {
		return
	}
	// Emoji-only replies are view-once capture triggers, not queries.
	if isEmojiOnly(raw) {
		return
	}
	lower := strings.ToLower(raw)
	fields := strings.Fields(lower)
	chat := evt.Info.Chat

	switch fields[0] {
	case "ping":
		r.cmdPing(sess, chat)
	case "uptime", "runtime":
		r.reply(sess, chat, fmt.Sprintf("⏱️ Uptime: %s", formatDuration(r.m.Uptime())))
	case "menu", "features", "help":
		r.cmdMenu(sess, chat)
	case "alwaysonline", "autotyping", "autorecording", "deepseek":
		r.cmdToggle(sess, evt, fields)
	case "play", "song":
		r.cmdMedia(sess, chat, argAfter(raw, fields[0]), MediaAudioKind)
	case "video":
		r.cmdMedia(sess, chat, argAfter(raw, fields[0]), MediaVideoKind)
	default:
		if r.privileged(sess, evt.Info) && r.m.FeatureEnabled(sess.TenantID, FeatureDeepseek) {
			r.cmdAI(sess, evt, raw)
		}
	}
}

// argAfter returns the original-case remainder of the message after the
// command word.
func argAfter(raw, command string) string {
	return strings.TrimSpace(raw[len(command):])
}

func (r *Router) reply(sess *TenantSession, to types.JID, text string) {
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := sess.Client.SendMessage(context.Background(), to, msg); err != nil {
		log.Printf("WARNING: Tenant %s - Reply failed: %v", sess.TenantID, err)
	}
}

// cmdPing measures round-trip latency by timing the probe send itself.
func (r *Router) cmdPing(sess *TenantSession, chat types.JID) {
	start := time.Now()
	r.reply(sess, chat, "🏓 Pinging...")
	latency := time.Since(start).Milliseconds()
	r.reply(sess, chat, fmt.Sprintf("*Pong!* `%d ms`", latency))
}

func (r *Router) cmdMenu(sess *TenantSession, chat types.JID) {
	var b strings.Builder
	fmt.Fprintf(&b, "╭─❍ *%s* ❍─\n", r.m.cfg.SessionName)
	b.WriteString("│ ping\n")
	b.WriteString("│ uptime\n")
	b.WriteString("│ play <song>\n")
	b.WriteString("│ video <title>\n")
	b.WriteString("│ <feature> on|off\n")
	b.WriteString("╰─────────❍\n\n*Features:*\n")
	for _, state := range r.m.FeatureStates(sess.TenantID) {
		mark := "❌"
		if state.Enabled {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, state.Feature)
	}
	r.reply(sess, chat, b.String())
}

// cmdToggle flips a feature for the tenant. Only privileged senders may
// change toggles; the syntax is "<feature> on" or "<feature> off".
func (r *Router) cmdToggle(sess *TenantSession, evt *events.Message, fields []string) {
	if !r.privileged(sess, evt.Info) {
		return
	}
	feature := Feature(fields[0])
	if len(fields) < 2 {
		r.reply(sess, evt.Info.Chat, fmt.Sprintf("Usage: %s on|off", feature))
		return
	}
	switch fields[1] {
	case "on":
		r.m.EnableFeature(sess.TenantID, feature)
		r.reply(sess, evt.Info.Chat, fmt.Sprintf("✅ %s enabled", feature))
	case "off":
		r.m.DisableFeature(sess.TenantID, feature)
		r.reply(sess, evt.Info.Chat, fmt.Sprintf("❌ %s disabled", feature))
	default:
		r.reply(sess, evt.Info.Chat, fmt.Sprintf("Usage: %s on|off", feature))
	}
}

func (r *Router) cmdMedia(sess *TenantSession, chat types.JID, query string, kind MediaKind) {
	if query == "" {
		r.reply(sess, chat, "What should I search for?")
		return
	}
	if err := r.m.media.Relay(context.Background(), sess, chat, query, kind); err != nil {
		log.Printf("WARNING: Tenant %s - Media relay failed: %v", sess.TenantID, err)
	}
}

// cmdAI relays free text to the ranked AI endpoints. When every endpoint
// fails, the sender gets a notice plus a ❌ reaction on their message.
func (r *Router) cmdAI(sess *TenantSession, evt *events.Message, query string) {
	ctx := context.Background()
	reply, err := r.m.relay.Ask(ctx, query)
	if err != nil {
		log.Printf("WARNING: Tenant %s - AI relay exhausted: %v", sess.TenantID, err)
		r.reply(sess, evt.Info.Chat, "⚠️ AI is unavailable right now. Try again later.")
		r.react(sess, evt, "❌")
		return
	}
	r.reply(sess, evt.Info.Chat, reply)
}

func (r *Router) react(sess *TenantSession, evt *events.Message, emoji string) {
	reaction := &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				RemoteJID: proto.String(evt.Info.Chat.String()),
				FromMe:    proto.Bool(evt.Info.IsFromMe),
				ID:        proto.String(evt.Info.ID),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
	if _, err := sess.Client.SendMessage(context.Background(), evt.Info.Chat, reaction); err != nil {
		log.Printf("WARNING: Tenant %s - Reaction failed: %v", sess.TenantID, err)
	}
}

// formatDuration renders an uptime as "1d 2h 3m 4s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds/time.Second)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds/time.Second)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds/time.Second)
}
