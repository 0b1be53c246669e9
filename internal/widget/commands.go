package widget

import (
	"context"
	"errors"

	"github.com/zhouzirui/embedchat/internal/model/embed"
)

var ErrNoDefaultMessage = errors.New("no default message configured")

// Command is an instruction for the chat driver.
type Command interface {
	command()
}

// SendText asks the driver to send Text as the visitor.
type SendText struct {
	Text string
}

func (SendText) command() {}

// Dispatcher accepts commands for the chat driver.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// Resetter resets the open chat.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Shortcuts are the quick actions shown under the chat window.
type Shortcuts struct {
	settings   embed.Settings
	dispatcher Dispatcher
	resetter   Resetter
}

// NewShortcuts wires the quick actions to a dispatcher and resetter.
func NewShortcuts(settings embed.Settings, dispatcher Dispatcher, resetter Resetter) *Shortcuts {
	return &Shortcuts{settings: settings, dispatcher: dispatcher, resetter: resetter}
}

// Summarize sends the first configured default message.
func (s *Shortcuts) Summarize(ctx context.Context) error {
	if len(s.settings.DefaultMessages) == 0 {
		return ErrNoDefaultMessage
	}
	return s.dispatcher.Dispatch(ctx, SendText{Text: s.settings.DefaultMessages[0]})
}

// Reset clears the conversation.
func (s *Shortcuts) Reset(ctx context.Context) error {
	return s.resetter.Reset(ctx)
}
