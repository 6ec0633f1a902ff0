package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// MediaKind selects the delivery format for a media relay request.
type MediaKind int

const (
	MediaAudioKind MediaKind = iota
	MediaVideoKind
)

// SearchResult is one hit from the video search backend.
type SearchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration"`
	Author    string `json:"author"`
}

// Searcher finds video candidates for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// replyPaths are the JSON locations converter backends put the direct
// download link under, tried in order.
var replyPaths = []string{"result.download_url", "result.url", "data.url", "url", "download"}

// MediaRelay implements the play and video commands: search, announce
// the top hit, resolve a direct download through the converter fallback
// list, then upload and send the media.
type MediaRelay struct {
	Searcher  Searcher
	audioURLs []string
	videoURLs []string
	client    *http.Client
}

func NewMediaRelay(cfg *config.Config, timeout time.Duration) *MediaRelay {
	client := &http.Client{Timeout: timeout}
	return &MediaRelay{
		Searcher:  &httpSearcher{baseURL: cfg.SearchURL, client: client},
		audioURLs: cfg.AudioConvertURLs,
		videoURLs: cfg.VideoConvertURLs,
		client:    client,
	}
}

// Relay runs the full search-announce-download-send pipeline for one
// request.
func (mr *MediaRelay) Relay(ctx context.Context, sess *TenantSession, chat types.JID, query string, kind MediaKind) error {
	results, err := mr.Searcher.Search(ctx, query)
	if err != nil {
		mr.replyText(sess, chat, "⚠️ Search is unavailable right now.")
		return err
	}
	if len(results) == 0 {
		mr.replyText(sess, chat, "No results found")
		return nil
	}

	top := results[0]
	mr.announce(ctx, sess, chat, top)

	direct, err := mr.resolveDownload(ctx, top.URL, kind)
	if err != nil {
		mr.replyText(sess, chat, "❌ Download failed. Please try again later.")
		return err
	}

	data, err := mr.fetchBytes(ctx, direct)
	if err != nil {
		mr.replyText(sess, chat, "❌ Download failed. Please try again later.")
		return err
	}

	if err := mr.sendMedia(ctx, sess, chat, data, kind); err != nil {
		mr.replyText(sess, chat, "❌ Download failed. Please try again later.")
		return err
	}
	return nil
}

// announce posts the top hit as a thumbnail card, degrading to plain
// text when the thumbnail cannot be fetched or uploaded.
func (mr *MediaRelay) announce(ctx context.Context, sess *TenantSession, chat types.JID, hit SearchResult) {
	caption := fmt.Sprintf("🎬 *%s*\n⏱️ %s\n👤 %s\n\nDownloading...", hit.Title, hit.Duration, hit.Author)

	if hit.Thumbnail != "" {
		if thumb, err := mr.fetchBytes(ctx, hit.Thumbnail); err == nil {
			if uploaded, upErr := sess.Client.Upload(ctx, thumb, whatsmeow.MediaImage); upErr == nil {
				msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
					Caption:       proto.String(caption),
					Mimetype:      proto.String("image/jpeg"),
					URL:           proto.String(uploaded.URL),
					DirectPath:    proto.String(uploaded.DirectPath),
					MediaKey:      uploaded.MediaKey,
					FileEncSHA256: uploaded.FileEncSHA256,
					FileSHA256:    uploaded.FileSHA256,
					FileLength:    proto.Uint64(uploaded.FileLength),
				}}
				if _, sendErr := sess.Client.SendMessage(ctx, chat, msg); sendErr == nil {
					return
				}
			}
		}
	}

	mr.replyText(sess, chat, caption)
}

// resolveDownload walks the converter fallback list until one returns a
// direct media URL.
func (mr *MediaRelay) resolveDownload(ctx context.Context, videoURL string, kind MediaKind) (string, error) {
	converters := mr.audioURLs
	if kind == MediaVideoKind {
		converters = mr.videoURLs
	}

	for i, base := range converters {
		direct, err := mr.convertOne(ctx, base, videoURL)
		if err != nil {
			log.Printf("DEBUG: Converter %d failed: %v", i+1, err)
			continue
		}
		return direct, nil
	}
	return "", errors.New("all converters failed")
}

func (mr *MediaRelay) convertOne(ctx context.Context, base, videoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+url.QueryEscape(videoURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := mr.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	for _, path := range replyPaths {
		if link, ok := lookupPath(body, path); ok && strings.HasPrefix(link, "http") {
			return link, nil
		}
	}
	return "", errors.New("no download link in response")
}

func (mr *MediaRelay) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := mr.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (mr *MediaRelay) sendMedia(ctx context.Context, sess *TenantSession, chat types.JID, data []byte, kind MediaKind) error {
	if kind == MediaVideoKind {
		uploaded, err := sess.Client.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return err
		}
		msg := &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Mimetype:      proto.String("video/mp4"),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
		_, err = sess.Client.SendMessage(ctx, chat, msg)
		return err
	}

	uploaded, err := sess.Client.Upload(ctx, data, whatsmeow.MediaAudio)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		Mimetype:      proto.String("audio/mpeg"),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	_, err = sess.Client.SendMessage(ctx, chat, msg)
	return err
}

func (mr *MediaRelay) replyText(sess *TenantSession, chat types.JID, text string) {
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := sess.Client.SendMessage(context.Background(), chat, msg); err != nil {
		log.Printf("WARNING: Tenant %s - Media reply failed: %v", sess.TenantID, err)
	}
}

// httpSearcher queries the configured search endpoint.
type httpSearcher struct {
	baseURL string
	client  *http.Client
}

func (s *httpSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Results []SearchResult `json:"results"`
		Result  []SearchResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Results) > 0 {
		return body.Results, nil
	}
	return body.Result, nil
}
