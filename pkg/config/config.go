// Package config loads process configuration from the environment and
// exposes the derived helpers the rest of the service relies on.
package config

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// PostingMode gates which OAuth scopes an account is authorized with and
// which publish mode the orchestrator requests by default.
type PostingMode string

const (
	ModeDraft  PostingMode = "draft"
	ModeDirect PostingMode = "direct"
)

// Settings holds every externally configurable value, loaded once at
// process start from environment variables so operators can carry over
// an existing deployment's environment file unchanged.
type Settings struct {
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8000"`

	TGBotToken       string `env:"TG_BOT_TOKEN"`
	TGWebhookSecret  string `env:"TG_WEBHOOK_SECRET"`
	UseTGWebhook     bool   `env:"USE_TG_WEBHOOK" envDefault:"true"`
	TGAllowedChatIDs string `env:"TG_ALLOWED_CHAT_IDS"`

	TikTokClientKey    string `env:"TIKTOK_CLIENT_KEY"`
	TikTokClientSecret string `env:"TIKTOK_CLIENT_SECRET"`
	TikTokRedirectURI  string `env:"TIKTOK_REDIRECT_URI" envDefault:"http://localhost:8000/tiktok/auth/callback"`

	PostingMode     PostingMode `env:"POSTING_MODE" envDefault:"draft"`
	FallbackToDraft bool        `env:"FALLBACK_TO_DRAFT" envDefault:"true"`

	AppendHashtags    string `env:"APPEND_HASHTAGS"`
	CaptionTemplate   string `env:"CAPTION_TEMPLATE" envDefault:"From TG: {text}"`
	CaptionMaxLength  int    `env:"CAPTION_MAX_LENGTH" envDefault:"2200"`

	StorageDBPath     string `env:"STORAGE_DB_PATH" envDefault:"./data/app.db"`
	MediaStoragePath  string `env:"MEDIA_STORAGE_PATH" envDefault:"./data/media"`

	MediaGroupFlushSeconds int  `env:"MEDIA_GROUP_FLUSH_SECONDS" envDefault:"3"`
	SlideSeconds           int  `env:"SLIDE_SECONDS" envDefault:"2"`
	SlideshowFPS           int  `env:"SLIDESHOW_FPS" envDefault:"30"`
	EnablePhotoAPI         bool `env:"ENABLE_PHOTO_API" envDefault:"false"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"6"`

	TGPollingTimeoutSeconds  int     `env:"TG_POLLING_TIMEOUT_SECONDS" envDefault:"30"`
	TGPollingIntervalSeconds float64 `env:"TG_POLLING_INTERVAL_SECONDS" envDefault:"1.0"`

	TGToTikTokMappingJSON string `env:"TG_TO_TIKTOK_MAPPING_JSON"`
}

// Load reads Settings from the process environment.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AllowedChatIDs parses the comma-separated TGAllowedChatIDs list. Malformed
// entries are skipped rather than rejecting the whole list; an empty/blank
// setting means "no filter" and yields an empty set.
func (s *Settings) AllowedChatIDs() map[int64]struct{} {
	result := map[int64]struct{}{}
	if strings.TrimSpace(s.TGAllowedChatIDs) == "" {
		return result
	}
	for _, raw := range strings.Split(s.TGAllowedChatIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		result[id] = struct{}{}
	}
	return result
}

// ChatAccountMapping parses TGToTikTokMappingJSON, a JSON object mapping
// chat id (as a string key) to a list of account labels. Any malformed
// shape — invalid JSON, a non-object root, a non-array value, a
// non-integer key — degrades to an empty mapping or drops just that entry,
// never an error.
func (s *Settings) ChatAccountMapping() map[int64][]string {
	mapping := map[int64][]string{}
	if strings.TrimSpace(s.TGToTikTokMappingJSON) == "" {
		return mapping
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(s.TGToTikTokMappingJSON), &payload); err != nil {
		return mapping
	}

	for key, value := range payload {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		rawList, ok := value.([]any)
		if !ok {
			continue
		}
		var labels []string
		for _, item := range rawList {
			label := strings.TrimSpace(toString(item))
			if label != "" {
				labels = append(labels, label)
			}
		}
		if len(labels) > 0 {
			mapping[chatID] = labels
		}
	}
	return mapping
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		if t == nil {
			return ""
		}
		b, _ := json.Marshal(t)
		return string(b)
	}
}
