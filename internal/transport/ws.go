package transport

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
)

// WSClient sends messages over a websocket; history and reset go through
// the embedded HTTPClient.
type WSClient struct {
	*HTTPClient
	dialer *websocket.Dialer
}

// NewWSClient builds a WSClient on top of an HTTPClient.
func NewWSClient(httpClient *HTTPClient) *WSClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &WSClient{HTTPClient: httpClient, dialer: websocket.DefaultDialer}
}

var _ Client = (*WSClient)(nil)

// SendMessage opens a socket for the session, sends one message and reads
// frames until the reply closes.
func (c *WSClient) SendMessage(ctx context.Context, settings embed.Settings, sessionID, content string, handle StreamHandler) (chat.Message, error) {
	const op = "ws chat"
	if err := requireBootable(settings); err != nil {
		return chat.Message{}, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, socketURL(settings, sessionID), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return chat.Message{}, checkStatus(op, resp)
		}
		return chat.Message{}, &NetworkError{Op: op, Err: err}
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(newStreamRequest(settings, sessionID, content)); err != nil {
		return chat.Message{}, &NetworkError{Op: op, Err: err}
	}

	var reply replyAssembler
	for !reply.done {
		var res ChatResult
		if err := conn.ReadJSON(&res); err != nil {
			if ctx.Err() != nil {
				return chat.Message{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return chat.Message{}, &NetworkError{Op: op, Err: err}
		}
		if handle != nil {
			if err := handle(res); err != nil {
				return chat.Message{}, err
			}
		}
		if err := reply.add(op, res); err != nil {
			return chat.Message{}, err
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return reply.message(), nil
}

func socketURL(settings embed.Settings, sessionID string) string {
	u := endpoint(settings, "ws", sessionID)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
