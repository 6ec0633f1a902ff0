package whatsapp

import (
	"fmt"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func keyFor(chat types.JID, id string) *waCommon.MessageKey {
	return &waCommon.MessageKey{
		RemoteJID: proto.String(chat.String()),
		ID:        proto.String(id),
	}
}

func viewOnceImageEvent(id string, chat, sender types.JID) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender},
			ID:            id,
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ViewOnceMessageV2: &waE2E.FutureProofMessage{
				Message: &waE2E.Message{
					ImageMessage: &waE2E.ImageMessage{
						Mimetype: proto.String("image/jpeg"),
						Caption:  proto.String("secret"),
					},
				},
			},
		},
	}
}

func TestViewOnceCaptureViaReaction(t *testing.T) {
	m, sess, mock := startedSession(t)
	chat := types.NewJID("254777777777", types.DefaultUserServer)

	// The protected media passes through first and gets cached.
	m.router.Dispatch(sess, viewOnceImageEvent("VO-1", chat, chat))
	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Fatalf("expected capture to be passive, got %d sends", got)
	}

	// Owner reacts to it: the payload is re-delivered to the owner chat.
	owner := types.NewJID(m.cfg.OwnerNumber, types.DefaultUserServer)
	reaction := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: owner},
			ID:            "R-1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key:  keyFor(chat, "VO-1"),
				Text: proto.String("👀"),
			},
		},
	}
	m.router.Dispatch(sess, reaction)

	if got := len(mock.GetCallsByMethod("Download")); got != 1 {
		t.Fatalf("expected 1 download, got %d", got)
	}
	if got := len(mock.GetCallsByMethod("Upload")); got != 1 {
		t.Fatalf("expected 1 re-upload, got %d", got)
	}
	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 1 {
		t.Fatalf("expected 1 redelivery, got %d sends", len(sends))
	}
	if to := sends[0].Args[0].(types.JID); to != owner {
		t.Errorf("expected redelivery to owner, got %s", to)
	}
	img := sends[0].Args[1].(*waE2E.Message).GetImageMessage()
	if img == nil || img.GetViewOnce() {
		t.Error("expected a plain image copy")
	}
}

func TestViewOnceCaptureViaEmojiReply(t *testing.T) {
	m, sess, mock := startedSession(t)
	self := sess.Client.GetStore().GetID().ToNonAD()
	chat := types.NewJID("254777777777", types.DefaultUserServer)

	reply := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: self, IsFromMe: true},
			ID:            "R-2",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("👀"),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String("VO-2"),
					QuotedMessage: viewOnceImageEvent("VO-2", chat, chat).Message,
				},
			},
		},
	}
	m.router.Dispatch(sess, reply)

	sends := mock.GetCallsByMethod("SendMessage")
	if len(sends) != 1 {
		t.Fatalf("expected 1 redelivery, got %d sends", len(sends))
	}
	if to := sends[0].Args[0].(types.JID); to != self {
		t.Errorf("expected redelivery to own chat, got %s", to)
	}
}

func TestViewOnceIgnoresStrangers(t *testing.T) {
	m, sess, mock := startedSession(t)
	chat := types.NewJID("254777777777", types.DefaultUserServer)
	stranger := types.NewJID("254788888888", types.DefaultUserServer)

	m.router.Dispatch(sess, viewOnceImageEvent("VO-3", chat, chat))

	reaction := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: stranger},
			ID:            "R-3",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key:  keyFor(chat, "VO-3"),
				Text: proto.String("👀"),
			},
		},
	}
	m.router.Dispatch(sess, reaction)

	if got := len(mock.GetCallsByMethod("SendMessage")); got != 0 {
		t.Errorf("expected stranger trigger ignored, got %d sends", got)
	}
}

func TestViewOnceCacheEviction(t *testing.T) {
	c := newViewOnceCache(2)
	for i := 0; i < 3; i++ {
		c.put(fmt.Sprintf("id-%d", i), &waE2E.Message{})
	}
	if _, ok := c.get("id-0"); ok {
		t.Error("expected oldest entry evicted")
	}
	if _, ok := c.get("id-2"); !ok {
		t.Error("expected newest entry present")
	}
}
