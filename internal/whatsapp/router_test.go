package whatsapp

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func startedSession(t *testing.T) (*SessionManager, *TenantSession, *MockClient) {
	t.Helper()
	m, f := newTestManager(t)
	if err := m.StartSession("default", false); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sess, _ := m.GetSession("default")
	return m, sess, f.client(0)
}

func textEvent(chat, sender types.JID, fromMe bool, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   sender,
				IsFromMe: fromMe,
			},
			ID:        "MSG-" + text,
			Timestamp: time.Now(),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestStatusBroadcastHandling(t *testing.T) {
	m, sess, mock := startedSession(t)
	poster := types.NewJID("254722222222", types.DefaultUserServer)

	evt := textEvent(types.StatusBroadcastJID, poster, false, "my status caption")
	m.router.Dispatch(sess, evt)

	if !waitFor(t, time.Second, func() bool {
		return len(mock.GetCallsByMethod("SendMessage")) > 0
	}) {
		t.Fatal("expected a status reaction")
	}

	if got := len(mock.GetCallsByMethod("MarkRead")); got != 1 {
		t.Errorf("expected 1 view receipt, got %d", got)
	}

	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 1 {
		t.Fatalf("expected exactly 1 send (the reaction), got %d", len(sends))
	}
	msg := sends[0].Args[1].(*waE2E.Message)
	if msg.GetReactionMessage() == nil {
		t.Fatal("expected a reaction message")
	}
	if got := msg.GetReactionMessage().GetKey().GetParticipant(); got != poster.String() {
		t.Errorf("reaction keyed to %q, want %q", got, poster.String())
	}
	// A status caption must never double as a command or AI query:
	// the only send is the reaction above.
}

func TestOwnStatusIgnored(t *testing.T) {
	m, sess, mock := startedSession(t)
	self := *sess.Client.GetStore().GetID()

	m.router.Dispatch(sess, textEvent(types.StatusBroadcastJID, self, true, "ping"))

	time.Sleep(30 * time.Millisecond)
	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Errorf("expected no sends for own status, got %d", got)
	}
}

func TestStatusReactionDelayDoesNotBlockCommands(t *testing.T) {
	m, sess, mock := startedSession(t)
	m.cfg.StatusReactDelay = 300 * time.Millisecond
	poster := types.NewJID("254722222222", types.DefaultUserServer)
	chat := types.NewJID("254733333333", types.DefaultUserServer)

	start := time.Now()
	m.router.Dispatch(sess, textEvent(types.StatusBroadcastJID, poster, false, "a status"))
	m.router.Dispatch(sess, textEvent(chat, chat, false, "ping"))
	elapsed := time.Since(start)

	// Both pings must already be out while the status reaction is still
	// waiting out its delay.
	sends := mock.GetCallsByMethod("SendMessage")
	reactions := 0
	for _, call := range sends {
		if call.Args[1].(*waE2E.Message).GetReactionMessage() != nil {
			reactions++
		}
	}
	if len(sends)-reactions != 2 {
		t.Fatalf("expected ping replies before the reaction delay elapsed, got %d sends (%d reactions)", len(sends), reactions)
	}
	if elapsed >= m.cfg.StatusReactDelay {
		t.Errorf("dispatch blocked for %v, reaction delay is %v", elapsed, m.cfg.StatusReactDelay)
	}

	if !waitFor(t, time.Second, func() bool {
		for _, call := range mock.GetCallsByMethod("SendMessage") {
			if call.Args[1].(*waE2E.Message).GetReactionMessage() != nil {
				return true
			}
		}
		return false
	}) {
		t.Error("expected the delayed status reaction to arrive eventually")
	}
}

func TestPingCommand(t *testing.T) {
	m, sess, mock := startedSession(t)
	chat := types.NewJID("254733333333", types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(chat, chat, false, "ping"))

	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 2 {
		t.Fatalf("expected probe + pong, got %d sends", len(sends))
	}
	probe := sends[0].Args[1].(*waE2E.Message).GetConversation()
	if !strings.Contains(probe, "Pinging") {
		t.Errorf("unexpected probe text %q", probe)
	}
	pong := sends[1].Args[1].(*waE2E.Message).GetConversation()
	if !strings.Contains(pong, "Pong!") {
		t.Fatalf("unexpected pong text %q", pong)
	}

	match := regexp.MustCompile("`(\\d+) ms`").FindStringSubmatch(pong)
	if match == nil {
		t.Fatalf("pong carries no latency: %q", pong)
	}
	if ms, _ := strconv.Atoi(match[1]); ms < 0 {
		t.Errorf("expected non-negative latency, got %d", ms)
	}
}

func TestGroupTrafficIgnored(t *testing.T) {
	m, sess, mock := startedSession(t)
	group := types.NewJID("123456789", types.GroupServer)
	sender := types.NewJID("254744444444", types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(group, sender, false, "ping"))

	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Errorf("expected group commands ignored, got %d sends", got)
	}
}

func TestUnauthorizedFreeTextDropped(t *testing.T) {
	m, sess, mock := startedSession(t)
	stranger := types.NewJID("254755555555", types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(stranger, stranger, false, "what is the weather"))

	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Errorf("expected free text from stranger dropped, got %d sends", got)
	}
}

func TestAuthorizedFreeTextFallsThroughToAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":"42 is the answer"}`))
	}))
	defer srv.Close()

	m, sess, mock := startedSession(t)
	m.relay = NewAIRelay([]config.AIEndpoint{{URL: srv.URL + "/?q=", ReplyField: "data"}}, time.Second)

	owner := types.NewJID(m.cfg.OwnerNumber, types.DefaultUserServer)
	m.router.Dispatch(sess, textEvent(owner, owner, false, "what is the answer"))

	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 1 {
		t.Fatalf("expected 1 AI reply, got %d sends", len(sends))
	}
	if got := sends[0].Args[1].(*waE2E.Message).GetConversation(); got != "42 is the answer" {
		t.Errorf("unexpected AI reply %q", got)
	}
}

func TestAIFailureNotifiesAndReacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	m, sess, mock := startedSession(t)
	m.relay = NewAIRelay([]config.AIEndpoint{{URL: srv.URL + "/?q=", ReplyField: "data"}}, time.Second)

	owner := types.NewJID(m.cfg.OwnerNumber, types.DefaultUserServer)
	m.router.Dispatch(sess, textEvent(owner, owner, false, "hello there"))

	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 2 {
		t.Fatalf("expected failure notice + reaction, got %d sends", len(sends))
	}
	notice := sends[0].Args[1].(*waE2E.Message).GetConversation()
	if !strings.Contains(notice, "unavailable") {
		t.Errorf("unexpected failure notice %q", notice)
	}
	reaction := sends[1].Args[1].(*waE2E.Message).GetReactionMessage()
	if reaction == nil || reaction.GetText() != "❌" {
		t.Error("expected ❌ reaction on the triggering message")
	}
}

func TestDeepseekToggleGatesAI(t *testing.T) {
	m, sess, mock := startedSession(t)
	owner := types.NewJID(m.cfg.OwnerNumber, types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(owner, owner, false, "deepseek off"))
	if m.FeatureEnabled("default", FeatureDeepseek) {
		t.Fatal("expected deepseek disabled")
	}
	before := len(mock.GetCallsByMethod("SendMessage"))

	m.router.Dispatch(sess, textEvent(owner, owner, false, "some free text"))
	if got := len(mock.GetCallsByMethod("SendMessage")); got != before {
		t.Errorf("expected gated AI to stay silent, got %d extra sends", got-before)
	}
}

func TestToggleRequiresPrivilege(t *testing.T) {
	m, sess, mock := startedSession(t)
	stranger := types.NewJID("254766666666", types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(stranger, stranger, false, "alwaysonline on"))

	if m.FeatureEnabled("default", FeatureAlwaysOnline) {
		t.Error("expected toggle refused for stranger")
	}
	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Errorf("expected silence for stranger, got %d sends", got)
	}
}

func TestToggleCommand(t *testing.T) {
	m, sess, mock := startedSession(t)
	owner := types.NewJID(m.cfg.OwnerNumber, types.DefaultUserServer)

	m.router.Dispatch(sess, textEvent(owner, owner, false, "alwaysonline on"))
	if !m.FeatureEnabled("default", FeatureAlwaysOnline) {
		t.Fatal("expected alwaysonline enabled")
	}
	if got := extractSentText(t, mock, 0); !strings.Contains(got, "enabled") {
		t.Errorf("unexpected confirmation %q", got)
	}

	m.router.Dispatch(sess, textEvent(owner, owner, false, "alwaysonline off"))
	if m.FeatureEnabled("default", FeatureAlwaysOnline) {
		t.Error("expected alwaysonline disabled")
	}
}

func TestEmojiOnly(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"👀", true},
		{"🔥🔥", true},
		{" 💚 ", true},
		{"hello", false},
		{"ok 👍", false},
		{"", false},
		{"...", false},
	}
	for _, tc := range cases {
		if got := isEmojiOnly(tc.text); got != tc.want {
			t.Errorf("isEmojiOnly(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
