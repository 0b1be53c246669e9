package chat

import "time"

// Session captures one visitor conversation on one embed.
type Session struct {
	EmbedID    string    `json:"embedId"`
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	// Generation is unique per incarnation; a reset followed by new traffic
	// yields a new one.
	Generation uint64    `json:"generation"`
}

// Key addresses a session across embeds.
func (s Session) Key() string {
	return SessionKey(s.EmbedID, s.ID)
}

// SessionKey joins an embed id and a session id into a map key.
func SessionKey(embedID, sessionID string) string {
	return embedID + "/" + sessionID
}
