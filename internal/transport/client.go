package transport

import (
	"context"
	"strings"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
)

// StreamHandler observes reply frames as they arrive. Returning an error
// stops the stream.
type StreamHandler func(ChatResult) error

// Client is the embed API as seen by the widget.
type Client interface {
	FetchHistory(ctx context.Context, settings embed.Settings, sessionID string) ([]chat.Message, error)
	ResetSession(ctx context.Context, settings embed.Settings, sessionID string) error
	SendMessage(ctx context.Context, settings embed.Settings, sessionID, content string, handle StreamHandler) (chat.Message, error)
}

func newStreamRequest(settings embed.Settings, sessionID, content string) StreamRequest {
	return StreamRequest{
		Message:     content,
		SessionID:   sessionID,
		Username:    settings.Username,
		Prompt:      settings.Prompt,
		Model:       settings.Model,
		Temperature: settings.Temperature,
	}
}

// replyAssembler folds stream frames into a single assistant message.
type replyAssembler struct {
	id      string
	content strings.Builder
	done    bool
}

func (a *replyAssembler) add(op string, res ChatResult) error {
	if a.id == "" {
		a.id = res.UUID
	}
	switch res.Type {
	case ResultAbort:
		a.done = true
		msg := string(res.Error)
		if msg == "" {
			msg = "stream aborted"
		}
		return &ServerError{Op: op, Message: msg}
	case ResultFull:
		a.content.Reset()
		a.content.WriteString(res.TextResponse)
	default:
		a.content.WriteString(res.TextResponse)
	}
	if res.Error != "" {
		a.done = true
		return &ServerError{Op: op, Message: string(res.Error)}
	}
	if res.Close {
		a.done = true
	}
	return nil
}

func (a *replyAssembler) message() chat.Message {
	msg := chat.AssistantMessage(a.content.String())
	if a.id != "" {
		msg.UUID = a.id
	}
	return msg
}

func requireBootable(settings embed.Settings) error {
	if !settings.Bootable() {
		return ErrNotConfigured
	}
	return nil
}
