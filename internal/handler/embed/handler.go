package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/service/ai"
	chatService "github.com/zhouzirui/embedchat/internal/service/chat"
	"github.com/zhouzirui/embedchat/internal/transport"
	"github.com/zhouzirui/embedchat/pkg/utils"
)

// Handler serves the embed API consumed by the widget.
type Handler struct {
	chatSvc   *chatService.Service
	responder ai.Responder
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

// New creates the embed handler.
func New(chatSvc *chatService.Service, responder ai.Responder, logger zerolog.Logger) *Handler {
	if responder == nil {
		responder = ai.EchoResponder{}
	}
	return &Handler{
		chatSvc:   chatSvc,
		responder: responder,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the embed routes under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/embed/{embedID}", func(r chi.Router) {
		r.Post("/stream-chat", h.handleStreamChat)
		r.Get("/ws/{sessionID}", h.handleWebSocket)
		r.Get("/{sessionID}", h.handleHistory)
		r.Delete("/{sessionID}", h.handleReset)
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedID")
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.LoadTranscript(r.Context(), embedID, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := make([]transport.HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, transport.NewHistoryEntry(msg))
	}
	utils.RespondJSON(w, http.StatusOK, transport.HistoryResponse{History: entries})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedID")
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.ResetSession(r.Context(), embedID, sessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("embed_id", embedID).Str("session_id", sessionID).Msg("session reset")
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedID")

	var req transport.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(res transport.ChatResult) error {
		return utils.SendSSEChunk(w, flusher, res)
	}
	if err := h.reply(r.Context(), embedID, req, emit); err != nil {
		h.logger.Warn().Err(err).Str("embed_id", embedID).Str("session_id", req.SessionID).Msg("stream chat failed")
	}
}

// reply stores the visitor turn, streams the assistant reply through emit,
// and stores the assistant turn. Failures are reported to the client as an
// abort frame.
func (h *Handler) reply(ctx context.Context, embedID string, req transport.StreamRequest, emit func(transport.ChatResult) error) error {
	chatID := uuid.NewString()
	abort := func(err error) error {
		_ = emit(transport.ChatResult{
			UUID:  chatID,
			Type:  transport.ResultAbort,
			Close: true,
			Error: transport.ErrorField(err.Error()),
		})
		return err
	}

	session, err := h.chatSvc.EnsureSession(ctx, embedID, req.SessionID)
	if err != nil {
		return abort(fmt.Errorf("open session: %w", err))
	}

	history, err := h.chatSvc.LoadTranscript(ctx, embedID, req.SessionID)
	if err != nil {
		return abort(fmt.Errorf("load conversation: %w", err))
	}

	if _, err := h.chatSvc.SaveToSession(ctx, session, chat.UserMessage(req.Message)); err != nil {
		return abort(fmt.Errorf("save user message: %w", err))
	}

	stream, err := h.responder.Stream(ctx, ai.Request{
		EmbedID:   embedID,
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		History:   history,
		Message:   req.Message,
	})
	if err != nil {
		return abort(fmt.Errorf("generate reply: %w", err))
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return abort(fmt.Errorf("generate reply: %w", recvErr))
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		content.WriteString(chunk.Content)
		if err := emit(transport.ChatResult{
			UUID:         chatID,
			Type:         transport.ResultChunk,
			TextResponse: chunk.Content,
			Sources:      []any{},
		}); err != nil {
			return fmt.Errorf("emit chunk: %w", err)
		}
	}

	assistant := chat.AssistantMessage(content.String())
	assistant.UUID = chatID
	_, err = h.chatSvc.SaveToSession(ctx, session, assistant)
	switch {
	case errors.Is(err, chatService.ErrSessionReset):
		h.logger.Debug().Str("session_id", req.SessionID).Msg("session reset during reply, not storing it")
	case err != nil:
		h.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to save assistant message")
	}

	if err := emit(transport.ChatResult{
		UUID:    chatID,
		Type:    transport.ResultChunk,
		Sources: []any{},
		Close:   true,
	}); err != nil {
		return fmt.Errorf("emit close: %w", err)
	}

	h.logger.Debug().Str("embed_id", embedID).Str("session_id", req.SessionID).Int("length", content.Len()).Msg("reply completed")
	return nil
}
