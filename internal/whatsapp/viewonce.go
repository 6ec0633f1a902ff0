package whatsapp

import (
	"context"
	"log"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

const viewOnceCaption = "👁️ View-once capture"

// viewOnceCache holds recently seen one-time-view payloads keyed by
// message id, so a later reaction can still reach the media.
type viewOnceCache struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]*waE2E.Message
}

func newViewOnceCache(limit int) *viewOnceCache {
	return &viewOnceCache{
		limit: limit,
		byID:  make(map[string]*waE2E.Message),
	}
}

func (c *viewOnceCache) put(id string, msg *waE2E.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = msg
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byID, oldest)
	}
}

func (c *viewOnceCache) get(id string) (*waE2E.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.byID[id]
	return msg, ok
}

// unwrapViewOnce returns the media payload of a one-time-view message,
// or nil when the message carries none.
func unwrapViewOnce(msg *waE2E.Message) *waE2E.Message {
	msg = unwrapMessage(msg)
	if msg == nil {
		return nil
	}
	if v := msg.GetViewOnceMessage().GetMessage(); v != nil {
		return v
	}
	if v := msg.GetViewOnceMessageV2().GetMessage(); v != nil {
		return v
	}
	if v := msg.GetViewOnceMessageV2Extension().GetMessage(); v != nil {
		return v
	}
	if img := msg.GetImageMessage(); img != nil && img.GetViewOnce() {
		return &waE2E.Message{ImageMessage: img}
	}
	if vid := msg.GetVideoMessage(); vid != nil && vid.GetViewOnce() {
		return &waE2E.Message{VideoMessage: vid}
	}
	if aud := msg.GetAudioMessage(); aud != nil && aud.GetViewOnce() {
		return &waE2E.Message{AudioMessage: aud}
	}
	return nil
}

// handleViewOnce caches one-time-view payloads as they pass through and
// re-delivers a cached payload when a privileged trigger points at it.
// An emoji-only quoted reply delivers to the bot's own chat; a reaction
// delivers to the owner.
func (r *Router) handleViewOnce(sess *TenantSession, evt *events.Message) {
	if inner := unwrapViewOnce(evt.Message); inner != nil {
		sess.viewOnce.put(evt.Info.ID, inner)
		return
	}

	if !r.privileged(sess, evt.Info) {
		return
	}

	msg := unwrapMessage(evt.Message)

	if reaction := msg.GetReactionMessage(); reaction != nil && reaction.GetText() != "" {
		if cached, ok := sess.viewOnce.get(reaction.GetKey().GetID()); ok {
			if to, found := r.ownerJID(sess); found {
				r.redeliverViewOnce(sess, cached, to)
			}
		}
		return
	}

	ext := msg.GetExtendedTextMessage()
	if ext == nil || !isEmojiOnly(ext.GetText()) {
		return
	}
	ci := ext.GetContextInfo()
	if ci == nil {
		return
	}

	inner := unwrapViewOnce(ci.GetQuotedMessage())
	if inner == nil {
		if cached, ok := sess.viewOnce.get(ci.GetStanzaID()); ok {
			inner = cached
		}
	}
	if inner == nil {
		return
	}

	if self := sess.Client.GetStore().GetID(); self != nil {
		r.redeliverViewOnce(sess, inner, self.ToNonAD())
	}
}

// redeliverViewOnce downloads the protected media and re-sends it as a
// plain message to the target chat.
func (r *Router) redeliverViewOnce(sess *TenantSession, inner *waE2E.Message, to types.JID) {
	ctx := context.Background()

	var (
		downloadable whatsmeow.DownloadableMessage
		mediaType    whatsmeow.MediaType
	)
	switch {
	case inner.GetImageMessage() != nil:
		downloadable = inner.GetImageMessage()
		mediaType = whatsmeow.MediaImage
	case inner.GetVideoMessage() != nil:
		downloadable = inner.GetVideoMessage()
		mediaType = whatsmeow.MediaVideo
	case inner.GetAudioMessage() != nil:
		downloadable = inner.GetAudioMessage()
		mediaType = whatsmeow.MediaAudio
	default:
		return
	}

	data, err := sess.Client.Download(ctx, downloadable)
	if err != nil {
		log.Printf("WARNING: Tenant %s - View-once download failed: %v", sess.TenantID, err)
		return
	}

	uploaded, err := sess.Client.Upload(ctx, data, mediaType)
	if err != nil {
		log.Printf("WARNING: Tenant %s - View-once re-upload failed: %v", sess.TenantID, err)
		return
	}

	var out *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		src := inner.GetImageMessage()
		out = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(viewOnceCaption),
			Mimetype:      proto.String(src.GetMimetype()),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	case whatsmeow.MediaVideo:
		src := inner.GetVideoMessage()
		out = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(viewOnceCaption),
			Mimetype:      proto.String(src.GetMimetype()),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	case whatsmeow.MediaAudio:
		src := inner.GetAudioMessage()
		out = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(src.GetMimetype()),
			PTT:           proto.Bool(src.GetPTT()),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	}

	if _, err := sess.Client.SendMessage(ctx, to, out); err != nil {
		log.Printf("WARNING: Tenant %s - View-once redelivery failed: %v", sess.TenantID, err)
	}
}
