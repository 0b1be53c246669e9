package embed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/embedchat/internal/transport"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// handleWebSocket serves stream-chat over a socket bound to one session.
// Each inbound StreamRequest yields a sequence of ChatResult frames.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedID")
	sessionID := chi.URLParam(r, "sessionID")
	if embedID == "" || sessionID == "" {
		http.Error(w, "embedID and sessionID are required", http.StatusBadRequest)
		return
	}

	if _, err := h.chatSvc.EnsureSession(r.Context(), embedID, sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("embed_id", embedID).Str("session_id", sessionID).Logger()
	logger.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go pingLoop(ctx, conn)

	emit := func(res transport.ChatResult) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(res)
	}

	for {
		var req transport.StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if req.SessionID != "" && req.SessionID != sessionID {
			_ = emit(abortFrame("session mismatch"))
			continue
		}
		if strings.TrimSpace(req.Message) == "" {
			_ = emit(abortFrame("message is required"))
			continue
		}
		req.SessionID = sessionID

		if err := h.reply(ctx, embedID, req, emit); err != nil {
			logger.Warn().Err(err).Msg("websocket chat failed")
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return
			}
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func abortFrame(message string) transport.ChatResult {
	return transport.ChatResult{
		Type:  transport.ResultAbort,
		Close: true,
		Error: transport.ErrorField(message),
	}
}
