package whatsapp

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// statusReactions is the emoji pool for status-broadcast reactions.
var statusReactions = []string{"💚", "🔥", "😂", "👍", "🎉", "💯", "🤖", "✨"}

// Router fans each incoming message out to three independent handler
// chains: status-broadcast reaction, view-once capture, and the command
// table. Each chain has its own error boundary so one failing chain
// never suppresses the others.
type Router struct {
	m *SessionManager
}

func NewRouter(m *SessionManager) *Router {
	return &Router{m: m}
}

// Dispatch routes one message event through every chain.
func (r *Router) Dispatch(sess *TenantSession, evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}

	sess.noteMessage(evt.Info)

	// The status chain sleeps before reacting, so it runs on its own
	// goroutine to keep the event callback and the other chains prompt.
	go r.runChain(sess, "status", func() { r.handleStatusBroadcast(sess, evt) })
	r.runChain(sess, "viewonce", func() { r.handleViewOnce(sess, evt) })
	r.runChain(sess, "command", func() { r.handleCommand(sess, evt) })
}

func (r *Router) runChain(sess *TenantSession, name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: Tenant %s - Panic in %s chain: %v", sess.TenantID, name, rec)
		}
	}()
	fn()
}

// noteMessage records who spoke last in each chat, feeding the presence
// pulse target picker.
func (s *TenantSession) noteMessage(info types.MessageInfo) {
	s.chatMu.Lock()
	s.lastFromMe[info.Chat.ToNonAD()] = info.IsFromMe
	s.chatMu.Unlock()
}

// handleStatusBroadcast marks contact statuses as viewed and, after a
// short delay, reacts with a random emoji addressed back to the poster.
func (r *Router) handleStatusBroadcast(sess *TenantSession, evt *events.Message) {
	if evt.Info.Chat != types.StatusBroadcastJID || evt.Info.IsFromMe {
		return
	}

	ctx := context.Background()
	if err := sess.Client.MarkRead(ctx, []types.MessageID{evt.Info.ID}, evt.Info.Timestamp, evt.Info.Chat, evt.Info.Sender); err != nil {
		log.Printf("WARNING: Tenant %s - Status view receipt failed: %v", sess.TenantID, err)
	}

	time.Sleep(r.m.cfg.StatusReactDelay)

	emoji := statusReactions[rand.Intn(len(statusReactions))]
	reaction := &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				RemoteJID:   proto.String(types.StatusBroadcastJID.String()),
				FromMe:      proto.Bool(false),
				ID:          proto.String(evt.Info.ID),
				Participant: proto.String(evt.Info.Sender.String()),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
	if _, err := sess.Client.SendMessage(ctx, types.StatusBroadcastJID, reaction); err != nil {
		log.Printf("WARNING: Tenant %s - Status reaction failed: %v", sess.TenantID, err)
	}
}

// privileged reports whether the message came from the bot's own account
// or the configured owner number.
func (r *Router) privileged(sess *TenantSession, info types.MessageInfo) bool {
	if info.IsFromMe {
		return true
	}
	if self := sess.Client.GetStore().GetID(); self != nil && info.Sender.User == self.User {
		return true
	}
	return r.m.cfg.OwnerNumber != "" && info.Sender.User == r.m.cfg.OwnerNumber
}

// ownerJID resolves the redelivery target for owner-directed captures,
// falling back to the bot's own chat when no owner is configured.
func (r *Router) ownerJID(sess *TenantSession) (types.JID, bool) {
	if r.m.cfg.OwnerNumber != "" {
		return types.NewJID(r.m.cfg.OwnerNumber, types.DefaultUserServer), true
	}
	if self := sess.Client.GetStore().GetID(); self != nil {
		return self.ToNonAD(), true
	}
	return types.JID{}, false
}

// unwrapMessage peels device-sent and ephemeral wrappers off a message.
func unwrapMessage(msg *waE2E.Message) *waE2E.Message {
	if msg == nil {
		return nil
	}
	if dsm := msg.GetDeviceSentMessage(); dsm.GetMessage() != nil {
		msg = dsm.GetMessage()
	}
	if eph := msg.GetEphemeralMessage(); eph.GetMessage() != nil {
		msg = eph.GetMessage()
	}
	return msg
}

// messageText extracts the command text of a message, if any.
func messageText(msg *waE2E.Message) string {
	msg = unwrapMessage(msg)
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	}
	return ""
}

// isEmojiOnly reports whether text is a short reply carrying no letters,
// digits or punctuation, i.e. emoji or symbols only.
func isEmojiOnly(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) {
			return false
		}
		if unicode.IsSpace(r) {
			continue
		}
	}
	return true
}
