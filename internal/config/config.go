package config

import (
	"os"
	"strings"
	"time"
)

// Config carries every tunable the gateway reads from the environment,
// plus the literal endpoint lists and identities that used to be scattered
// through the bot. Tests construct one directly instead of touching env.
type Config struct {
	Port        string
	SessionName string
	SessionRoot string

	// Channel-follow verification gate
	ChannelJID      string
	ChannelName     string
	RequiredChannel string

	// Owner phone number (privileged identity next to the bot's own JID)
	OwnerNumber string

	Timezone string

	// Session reference markers accepted by the credential resolver
	ReferenceMarkers []string

	// Content-addressed blob store serving encrypted credential blobs
	BlobBaseURL string

	// Protocol version discovery endpoint; failure falls back to DefaultVersion
	VersionURL     string
	DefaultVersion [3]uint32

	// Ranked-fallback AI chat endpoints, tried in order
	AIEndpoints []AIEndpoint

	// Video search + conversion endpoints for the play/video commands
	SearchURL        string
	AudioConvertURLs []string
	VideoConvertURLs []string

	// Feature loop intervals
	AlwaysOnlineInterval time.Duration
	AutoPresenceInterval time.Duration
	PresencePulse        time.Duration
	StatusReactDelay     time.Duration

	ReconnectDelay time.Duration
	FetchTimeout   time.Duration

	JWTSecret string
}

// AIEndpoint is one entry in the ranked AI fallback list: a URL the query
// is appended to, and the dot-path of the reply field in the JSON body.
type AIEndpoint struct {
	URL        string
	ReplyField string
}

// Load builds a Config from the environment with the same fallbacks the
// bot shipped with.
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "3000"),
		SessionName:     getEnv("SESSION_NAME", "Demon-Slayer"),
		SessionRoot:     getEnv("SESSION_ROOT", "sessions"),
		ChannelJID:      getEnv("CHANNEL_JID", "120363299029326322@newsletter"),
		ChannelName:     getEnv("CHANNEL_NAME", "Bera Tech"),
		RequiredChannel: getEnv("REQUIRED_CHANNEL", "0029VajJoCoLI8YePbpsnE3q"),
		OwnerNumber:     getEnv("OWNER_NUMBER", ""),
		Timezone:        getEnv("TIMEZONE", "Africa/Nairobi"),

		ReferenceMarkers: splitList(getEnv("SESSION_MARKERS", "CLOUD-AI~,Demo-Slayer~")),
		BlobBaseURL:      getEnv("BLOB_BASE_URL", "https://mega.nz/file"),

		VersionURL:     getEnv("WA_VERSION_URL", "https://web.whatsapp.com/check-update?version=2&platform=web"),
		DefaultVersion: [3]uint32{2, 3000, 1015901307},

		AIEndpoints: []AIEndpoint{
			{URL: "https://api.dreaded.site/api/chatgpt?text=", ReplyField: "result.prompt"},
			{URL: "https://api.giftedtech.my.id/api/ai/gpt?apikey=gifted&q=", ReplyField: "result"},
			{URL: "https://api.siputzx.my.id/api/ai/gpt3?prompt=", ReplyField: "data"},
		},

		SearchURL: getEnv("YT_SEARCH_URL", "https://api.dreaded.site/api/ytsearch?query="),
		AudioConvertURLs: []string{
			"https://api.giftedtech.my.id/api/download/ytmp3?apikey=gifted&url=",
			"https://api.dreaded.site/api/ytdl/audio?url=",
		},
		VideoConvertURLs: []string{
			"https://api.giftedtech.my.id/api/download/ytmp4?apikey=gifted&url=",
			"https://api.dreaded.site/api/ytdl/video?url=",
		},

		AlwaysOnlineInterval: 20 * time.Second,
		AutoPresenceInterval: 30 * time.Second,
		PresencePulse:        3 * time.Second,
		StatusReactDelay:     time.Second,

		ReconnectDelay: 10 * time.Second,
		FetchTimeout:   30 * time.Second,

		JWTSecret: getEnv("JWT_SECRET", "cloud-host-super-secret-jwt-key-change-in-production"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
