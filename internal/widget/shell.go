package widget

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
	"github.com/zhouzirui/embedchat/internal/service/history"
	"github.com/zhouzirui/embedchat/internal/service/session"
	"github.com/zhouzirui/embedchat/internal/transport"
)

var (
	ErrNotLoaded = errors.New("embed settings not loaded")
	ErrNotBooted = errors.New("widget not booted")
	ErrUnmounted = errors.New("widget unmounted")
	ErrEmptyText = errors.New("message is empty")
)

const defaultQueue = 16

var (
	_ Dispatcher = (*Shell)(nil)
	_ Resetter   = (*Shell)(nil)
)

// SessionProvider resolves the session id for an embed scope.
type SessionProvider interface {
	GetOrCreate(ctx context.Context, scopeKey string) (string, error)
}

// Shell ties settings, session identity, history and transport into the
// open/closed widget lifecycle.
type Shell struct {
	settings embed.Settings
	sessions SessionProvider
	client   transport.Client
	logger   zerolog.Logger
	outside  *Outside
	menu     *OptionsMenu

	commands chan Command
	done     chan struct{}
	unmount  sync.Once

	onHistory func([]chat.Message, history.State)
	onFrame   transport.StreamHandler
	onError   func(error)
	onOpen    func(bool)

	mu        sync.Mutex
	booted    bool
	sessionID string
	store     *history.Store
	settled   <-chan struct{}
}

// Option customises a Shell.
type Option func(*Shell)

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// WithHistoryObserver is called with every history change of the open window.
func WithHistoryObserver(fn func([]chat.Message, history.State)) Option {
	return func(s *Shell) { s.onHistory = fn }
}

// WithStreamObserver receives reply frames as they stream in.
func WithStreamObserver(fn transport.StreamHandler) Option {
	return func(s *Shell) { s.onFrame = fn }
}

// WithErrorObserver receives send failures, which are otherwise only logged.
func WithErrorObserver(fn func(error)) Option {
	return func(s *Shell) { s.onError = fn }
}

// WithOpenObserver is told whenever the window opens or closes.
func WithOpenObserver(fn func(open bool)) Option {
	return func(s *Shell) { s.onOpen = fn }
}

// WithQueueSize sets how many commands may wait for the driver.
func WithQueueSize(n int) Option {
	return func(s *Shell) {
		if n > 0 {
			s.commands = make(chan Command, n)
		}
	}
}

// New builds a Shell. Nothing touches storage or the network until Boot.
func New(settings embed.Settings, sessions SessionProvider, client transport.Client, opts ...Option) *Shell {
	s := &Shell{
		settings: settings,
		sessions: sessions,
		client:   client,
		logger:   zerolog.Nop(),
		outside:  NewOutside(),
		commands: make(chan Command, defaultQueue),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("embed_id", settings.EmbedID).Logger()
	s.menu = newOptionsMenu(s)
	return s
}

// Boot resolves the session id and opens the window when open-on-load is on.
// Unloaded settings render nothing.
func (s *Shell) Boot(ctx context.Context) error {
	if !s.settings.Loaded {
		return ErrNotLoaded
	}
	if s.unmounted() {
		return ErrUnmounted
	}

	id, err := s.sessions.GetOrCreate(ctx, session.ScopeKey(s.settings))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.booted = true
	s.sessionID = id
	s.mu.Unlock()
	s.logger.Debug().Str("session_id", id).Msg("widget booted")

	if s.settings.AutoOpen() {
		if _, err := s.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Open shows the chat window and starts loading its history. The returned
// channel closes once the load settles. Opening an open window is a no-op.
func (s *Shell) Open(ctx context.Context) (<-chan struct{}, error) {
	if s.unmounted() {
		return nil, ErrUnmounted
	}

	s.mu.Lock()
	if !s.booted {
		s.mu.Unlock()
		return nil, ErrNotBooted
	}
	if s.store != nil {
		settled := s.settled
		s.mu.Unlock()
		return settled, nil
	}

	opts := []history.Option{history.WithLogger(s.logger)}
	if s.onHistory != nil {
		opts = append(opts, history.OnChange(s.onHistory))
	}
	store := history.New(s.client, s.settings, s.sessionID, opts...)
	settled := make(chan struct{})
	s.store = store
	s.settled = settled
	s.mu.Unlock()

	s.notifyOpen(true)

	// The load belongs to the window, not to the caller that opened it.
	loadCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(settled)
		<-store.Load(loadCtx)
	}()
	return settled, nil
}

// Close hides the chat window and discards its history store.
func (s *Shell) Close() {
	s.mu.Lock()
	store := s.store
	s.store = nil
	s.settled = nil
	s.mu.Unlock()

	if store == nil {
		return
	}
	s.menu.Hide()
	store.Close()
	s.notifyOpen(false)
}

// Toggle flips the window like the floating button does.
func (s *Shell) Toggle(ctx context.Context) error {
	if s.IsOpen() {
		s.Close()
		return nil
	}
	_, err := s.Open(ctx)
	return err
}

// Unmount closes the window, drops outside-interaction registrations and
// stops Run.
func (s *Shell) Unmount() {
	s.unmount.Do(func() {
		s.Close()
		s.menu.Hide()
		s.outside.Reset()
		close(s.done)
	})
}

// Dispatch queues cmd for the driver loop.
func (s *Shell) Dispatch(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrUnmounted
	default:
	}

	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrUnmounted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives queued commands until ctx ends or the shell unmounts.
func (s *Shell) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case cmd := <-s.commands:
			switch c := cmd.(type) {
			case SendText:
				if err := s.send(ctx, c.Text); err != nil {
					s.reportError(err)
				}
			default:
				s.logger.Warn().Msgf("ignoring unknown command %T", cmd)
			}
		}
	}
}

// Send is a convenience for Dispatch(ctx, SendText{Text: text}).
func (s *Shell) Send(ctx context.Context, text string) error {
	return s.Dispatch(ctx, SendText{Text: text})
}

func (s *Shell) send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyText
	}

	// Loaded history replaces whatever is in the store, so wait for it.
	settled, err := s.Open(ctx)
	if err != nil {
		return err
	}
	select {
	case <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	store := s.currentStore()
	if store == nil {
		return history.ErrClosed
	}

	gen, err := store.AppendTracked(ctx, chat.UserMessage(text))
	if err != nil {
		return err
	}

	reply, err := s.client.SendMessage(ctx, s.settings, store.SessionID(), text, s.onFrame)
	if err != nil {
		return err
	}

	// A reset while the reply streamed in cleared the question it answers.
	added, err := store.AppendIfGen(ctx, gen, reply)
	if err != nil {
		if errors.Is(err, history.ErrClosed) {
			s.logger.Debug().Msg("window closed before reply was stored")
			return nil
		}
		return err
	}
	if !added {
		s.logger.Debug().Str("uuid", reply.UUID).Msg("conversation reset before reply was stored")
	}
	return nil
}

// Reset asks the server to forget the session and clears the open window.
// With the window closed only the server is reset.
func (s *Shell) Reset(ctx context.Context) error {
	store := s.currentStore()
	if store != nil {
		return store.Reset(ctx)
	}

	sessionID := s.SessionID()
	if sessionID == "" {
		return ErrNotBooted
	}
	return s.client.ResetSession(ctx, s.settings, sessionID)
}

// History returns the open window's messages and whether a load is pending.
// A closed window has no history.
func (s *Shell) History() ([]chat.Message, bool) {
	store := s.currentStore()
	if store == nil {
		return nil, false
	}
	return store.Snapshot()
}

// Settings returns the resolved configuration.
func (s *Shell) Settings() embed.Settings {
	return s.settings
}

// SessionID is empty until Boot succeeds.
func (s *Shell) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// IsOpen reports whether the chat window is showing.
func (s *Shell) IsOpen() bool {
	return s.currentStore() != nil
}

// Outside is the outside-interaction capability shared with dropdowns.
func (s *Shell) Outside() *Outside {
	return s.outside
}

// Menu is the header options menu.
func (s *Shell) Menu() *OptionsMenu {
	return s.menu
}

// Icon is the floating button icon.
func (s *Shell) Icon() embed.ChatIcon {
	return embed.ResolveIcon(string(s.settings.ChatIcon))
}

// Sponsor returns the sponsor line, if one is shown.
func (s *Shell) Sponsor() (text, link string, ok bool) {
	if !s.settings.ShowSponsor() {
		return "", "", false
	}
	return s.settings.SponsorText, s.settings.SponsorLink, true
}

func (s *Shell) currentStore() *history.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Shell) unmounted() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Shell) notifyOpen(open bool) {
	if s.onOpen != nil {
		s.onOpen(open)
	}
}

func (s *Shell) reportError(err error) {
	s.logger.Warn().Err(err).Msg("chat command failed")
	if s.onError != nil {
		s.onError(err)
	}
}
