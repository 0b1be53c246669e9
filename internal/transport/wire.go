package transport

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/embedchat/internal/model/chat"
)

// Chat result frame types.
const (
	ResultChunk = "textResponseChunk"
	ResultFull  = "textResponse"
	ResultAbort = "abort"
)

// ChatResult is one frame of a streamed reply.
type ChatResult struct {
	UUID         string     `json:"uuid"`
	Type         string     `json:"type"`
	TextResponse string     `json:"textResponse"`
	Sources      []any      `json:"sources"`
	Close        bool       `json:"close"`
	Error        ErrorField `json:"error"`
}

// ErrorField tolerates the `false`/`null`/string shapes servers emit.
type ErrorField string

// UnmarshalJSON implements json.Unmarshaler.
func (e *ErrorField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*e = ""
		return nil
	case bytes.Equal(data, []byte("true")):
		*e = "unknown error"
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*e = ErrorField(s)
	return nil
}

// MarshalJSON implements json.Marshaler; an empty error is sent as false.
func (e ErrorField) MarshalJSON() ([]byte, error) {
	if e == "" {
		return []byte("false"), nil
	}
	return json.Marshal(string(e))
}

// StreamRequest is the body of a stream-chat call.
type StreamRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"sessionId"`
	Username    string   `json:"username,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// HistoryResponse is the body of a history fetch.
type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
}

// HistoryEntry is a stored turn on the wire. SentAt is unix seconds.
type HistoryEntry struct {
	Role    string          `json:"role"`
	Content string          `json:"content"`
	SentAt  json.RawMessage `json:"sentAt,omitempty"`
	ChatID  string          `json:"chatId,omitempty"`
}

// NewHistoryEntry encodes a message for the wire.
func NewHistoryEntry(msg chat.Message) HistoryEntry {
	return HistoryEntry{
		Role:    string(msg.Role),
		Content: msg.Content,
		SentAt:  json.RawMessage(strconv.FormatInt(msg.SentAt.Unix(), 10)),
		ChatID:  msg.UUID,
	}
}

// Message decodes a wire entry. Missing ids get a fresh uuid; any role other
// than user is treated as the assistant.
func (h HistoryEntry) Message() chat.Message {
	role := chat.RoleAssistant
	if h.Role == string(chat.RoleUser) {
		role = chat.RoleUser
	}
	id := h.ChatID
	if id == "" {
		id = uuid.NewString()
	}
	return chat.Message{
		UUID:    id,
		Role:    role,
		Content: h.Content,
		SentAt:  parseSentAt(h.SentAt),
	}
}

func parseSentAt(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if secs, err := n.Int64(); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		if f, err := n.Float64(); err == nil {
			return time.Unix(int64(f), 0).UTC()
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Time{}
}
