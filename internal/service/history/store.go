package history

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
)

var ErrClosed = errors.New("history store closed")

// State is where the store sits in its lifecycle.
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Resetting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// Transport is the slice of the embed API the store needs.
type Transport interface {
	FetchHistory(ctx context.Context, settings embed.Settings, sessionID string) ([]chat.Message, error)
	ResetSession(ctx context.Context, settings embed.Settings, sessionID string) error
}

// Store owns the in-memory history of one open chat window. Every mutation
// runs on a single writer goroutine; readers take snapshots.
type Store struct {
	transport Transport
	settings  embed.Settings
	sessionID string
	logger    zerolog.Logger
	onChange  func([]chat.Message, State)

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	history []chat.Message
	state   State

	// gen is touched only on the writer goroutine; load results from an
	// older generation are dropped.
	gen uint64
}

// Option customises a Store.
type Option func(*Store)

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// OnChange registers an observer called on the writer goroutine after every
// change. It must not call back into the store.
func OnChange(fn func([]chat.Message, State)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New starts a Store for one session. Call Close when the window unmounts.
func New(transport Transport, settings embed.Settings, sessionID string, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		transport: transport,
		settings:  settings,
		sessionID: sessionID,
		logger:    zerolog.Nop(),
		ops:       make(chan func()),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		history:   []chat.Message{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("embed_id", settings.EmbedID).Str("session_id", sessionID).Logger()

	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// submit runs fn on the writer goroutine and waits for it.
func (s *Store) submit(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ops <- wrapped:
	}

	// The writer always finishes an op it has received.
	<-finished
	return nil
}

// Load fetches prior history in the background. The returned channel closes
// once the result has been applied or discarded. Failures leave an empty,
// usable history.
func (s *Store) Load(ctx context.Context) <-chan struct{} {
	settled := make(chan struct{})

	var gen uint64
	err := s.submit(ctx, func() {
		s.gen++
		gen = s.gen
		s.setState(Loading)
	})
	if err != nil {
		close(settled)
		return settled
	}

	go func() {
		defer close(settled)

		fetchCtx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		messages, fetchErr := s.transport.FetchHistory(fetchCtx, s.settings, s.sessionID)

		_ = s.submit(context.Background(), func() {
			if gen != s.gen {
				s.logger.Debug().Msg("discarding stale history load")
				return
			}
			if fetchErr != nil {
				s.logger.Warn().Err(fetchErr).Msg("failed to load chat history")
				messages = nil
			}
			s.replace(messages, Loaded)
		})
	}()

	return settled
}

// Append adds one message to the end of the history.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	return s.submit(ctx, func() {
		s.mu.Lock()
		s.history = append(s.history, msg)
		s.mu.Unlock()
		s.notify()
	})
}

// AppendTracked adds msg like Append and returns the generation it landed in.
// Pass that generation to AppendIfGen to add a follow-up only while no reset
// or reload has happened since.
func (s *Store) AppendTracked(ctx context.Context, msg chat.Message) (uint64, error) {
	var gen uint64
	err := s.submit(ctx, func() {
		gen = s.gen
		s.mu.Lock()
		s.history = append(s.history, msg)
		s.mu.Unlock()
		s.notify()
	})
	return gen, err
}

// AppendIfGen adds msg only if the history is still at generation gen. It
// reports whether the message was added.
func (s *Store) AppendIfGen(ctx context.Context, gen uint64, msg chat.Message) (bool, error) {
	var added bool
	err := s.submit(ctx, func() {
		if gen != s.gen {
			s.logger.Debug().Str("uuid", msg.UUID).Msg("dropping message from before reset")
			return
		}
		s.mu.Lock()
		s.history = append(s.history, msg)
		s.mu.Unlock()
		added = true
		s.notify()
	})
	return added, err
}

// Reset asks the server to reset the session and clears local history.
// Pending loads are discarded immediately; the local clear happens after the
// server answers and does not depend on its outcome. The server error, if
// any, is returned for reporting.
func (s *Store) Reset(ctx context.Context) error {
	var resetErr error
	err := s.submit(ctx, func() {
		s.gen++
		s.setState(Resetting)

		resetCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()

		resetErr = s.transport.ResetSession(resetCtx, s.settings, s.sessionID)
		if resetErr != nil {
			s.logger.Warn().Err(resetErr).Msg("failed to reset chat session")
		}

		s.replace(nil, Loaded)
	})
	if err != nil {
		return err
	}
	return resetErr
}

// Snapshot returns a copy of the history and whether a load is in flight.
func (s *Store) Snapshot() ([]chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.history))
	copy(out, s.history)
	return out, s.state == Loading
}

// State reports the lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID is the session this store belongs to.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Close stops the writer and cancels in-flight loads. Late results are dropped.
func (s *Store) Close() {
	s.cancel()
	<-s.done
}

func (s *Store) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify()
}

func (s *Store) replace(messages []chat.Message, state State) {
	s.mu.Lock()
	s.history = append(make([]chat.Message, 0, len(messages)), messages...)
	s.state = state
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	if s.onChange == nil {
		return
	}
	history, _ := s.Snapshot()
	s.onChange(history, s.State())
}
