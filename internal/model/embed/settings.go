package embed

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Position is the corner the widget docks to.
type Position string

const (
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
)

// ChatIcon names the glyph on the floating open button.
type ChatIcon string

const (
	IconPlus       ChatIcon = "plus"
	IconChatBubble ChatIcon = "chatBubble"
	IconSupport    ChatIcon = "support"
	IconSearch2    ChatIcon = "search2"
	IconSearch     ChatIcon = "search"
	IconMagic      ChatIcon = "magic"
)

var chatIcons = map[ChatIcon]struct{}{
	IconPlus:       {},
	IconChatBubble: {},
	IconSupport:    {},
	IconSearch2:    {},
	IconSearch:     {},
	IconMagic:      {},
}

var positions = map[Position]struct{}{
	BottomLeft:  {},
	BottomRight: {},
	TopLeft:     {},
	TopRight:    {},
}

const (
	DefaultPosition         = BottomRight
	DefaultWindowWidth      = "400px"
	DefaultWindowHeight     = "700px"
	DefaultChatIcon         = IconPlus
	DefaultButtonColor      = "#262626"
	DefaultUserBgColor      = "#3DBEF5"
	DefaultAssistantBgColor = "#FFFFFF"
	DefaultSponsorText      = "Powered by AnythingLLM"
	DefaultSponsorLink      = "https://anythingllm.com"
	DefaultOpenOnLoad       = "off"
)

// Settings is the resolved embed configuration. It is built once at boot and
// handed to every consumer; nothing mutates it afterwards.
type Settings struct {
	Loaded bool `yaml:"loaded" json:"loaded"`

	BaseAPIURL string `yaml:"baseApiUrl" json:"baseApiUrl"`
	EmbedID    string `yaml:"embedId" json:"embedId"`

	Position     Position `yaml:"position" json:"position"`
	WindowWidth  string   `yaml:"windowWidth" json:"windowWidth"`
	WindowHeight string   `yaml:"windowHeight" json:"windowHeight"`

	ChatIcon         ChatIcon `yaml:"chatIcon" json:"chatIcon"`
	ButtonColor      string   `yaml:"buttonColor" json:"buttonColor"`
	UserBgColor      string   `yaml:"userBgColor" json:"userBgColor"`
	AssistantBgColor string   `yaml:"assistantBgColor" json:"assistantBgColor"`
	BrandImageURL    string   `yaml:"brandImageUrl,omitempty" json:"brandImageUrl,omitempty"`

	SupportEmail string `yaml:"supportEmail,omitempty" json:"supportEmail,omitempty"`
	SponsorLink  string `yaml:"sponsorLink" json:"sponsorLink"`
	SponsorText  string `yaml:"sponsorText" json:"sponsorText"`
	NoSponsor    bool   `yaml:"noSponsor" json:"noSponsor"`

	DefaultMessages []string `yaml:"defaultMessages" json:"defaultMessages"`
	OpenOnLoad      string   `yaml:"openOnLoad" json:"openOnLoad"`

	// Per-chat overrides forwarded to the stream endpoint.
	Prompt      string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Username    string   `yaml:"username,omitempty" json:"username,omitempty"`

	StylesSrc string `yaml:"stylesSrc" json:"stylesSrc"`
}

// ScriptEnv exposes what the host page knows about the running widget script.
type ScriptEnv interface {
	ScriptSource() string
}

// StaticScript is a ScriptEnv with a fixed script URL.
type StaticScript string

// ScriptSource implements ScriptEnv.
func (s StaticScript) ScriptSource() string { return string(s) }

// Resolve turns raw attributes into Settings. Missing or malformed optional
// values fall back to defaults; it never fails.
func Resolve(attrs map[string]string, env ScriptEnv) Settings {
	a := normalizeKeys(attrs)

	s := Settings{
		BaseAPIURL:       strings.TrimRight(a["base-api-url"], "/"),
		EmbedID:          a["embed-id"],
		Position:         resolvePosition(a["position"]),
		WindowWidth:      orDefault(a["window-width"], DefaultWindowWidth),
		WindowHeight:     orDefault(a["window-height"], DefaultWindowHeight),
		ChatIcon:         ResolveIcon(a["chat-icon"]),
		ButtonColor:      orDefault(a["button-color"], DefaultButtonColor),
		UserBgColor:      orDefault(a["user-bg-color"], DefaultUserBgColor),
		AssistantBgColor: orDefault(a["assistant-bg-color"], DefaultAssistantBgColor),
		BrandImageURL:    a["brand-image-url"],
		SupportEmail:     a["support-email"],
		SponsorLink:      orDefault(a["sponsor-link"], DefaultSponsorLink),
		SponsorText:      orDefault(a["sponsor-text"], DefaultSponsorText),
		NoSponsor:        parseFlag(a, "no-sponsor"),
		DefaultMessages:  ParseDefaultMessages(a["default-messages"]),
		OpenOnLoad:       orDefault(a["open-on-load"], DefaultOpenOnLoad),
		Prompt:           a["prompt"],
		Model:            a["model"],
		Temperature:      parseTemperature(a["temperature"]),
		Username:         a["username"],
	}
	if env != nil {
		s.StylesSrc = ParseStylesSrc(env.ScriptSource())
	}

	s.Loaded = true
	return s
}

// Bootable reports whether the settings carry enough to reach the embed API.
func (s Settings) Bootable() bool {
	return s.Loaded && s.BaseAPIURL != "" && s.EmbedID != ""
}

// AutoOpen reports whether the chat window opens as soon as the widget boots.
func (s Settings) AutoOpen() bool {
	return s.OpenOnLoad == "on"
}

// ShowSponsor reports whether the sponsor line is rendered.
func (s Settings) ShowSponsor() bool {
	return !s.NoSponsor
}

// ResolveIcon maps an attribute value to a known icon, falling back to plus.
func ResolveIcon(raw string) ChatIcon {
	icon := ChatIcon(strings.TrimSpace(raw))
	if _, ok := chatIcons[icon]; ok {
		return icon
	}
	return DefaultChatIcon
}

// ParseDefaultMessages accepts a single message or a JSON array of messages.
func ParseDefaultMessages(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			out := make([]string, 0, len(list))
			for _, item := range list {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			return out
		}
	}

	return []string{raw}
}

// ParseStylesSrc derives the stylesheet URL served next to the widget script.
func ParseStylesSrc(scriptSrc string) string {
	if scriptSrc == "" {
		return ""
	}
	u, err := url.Parse(scriptSrc)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	path := strings.Replace(u.Path, "anythingllm-chat-widget.min.js", "anythingllm-chat-widget.min.css", 1)
	path = strings.Replace(path, "anythingllm-chat-widget.js", "anythingllm-chat-widget.min.css", 1)
	u.Path = path
	return u.String()
}

func resolvePosition(raw string) Position {
	pos := Position(strings.TrimSpace(raw))
	if _, ok := positions[pos]; ok {
		return pos
	}
	return DefaultPosition
}

func parseFlag(attrs map[string]string, key string) bool {
	raw, ok := attrs[key]
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "false", "0", "off", "no":
		return false
	}
	return true
}

func parseTemperature(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &val
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}

// normalizeKeys folds camelCase dataset keys and data- prefixes into kebab-case.
func normalizeKeys(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[kebab(strings.TrimPrefix(k, "data-"))] = v
	}
	return out
}

func kebab(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == '_' {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
