package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/embedchat/internal/model/chat"
)

var (
	ErrEmbedRequired   = errors.New("embed id is required")
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionReset    = errors.New("session was reset")
)

// Service keeps embed conversations in memory, keyed by embed and session.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	lastGen  uint64
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// EnsureSession returns the session, creating it on first contact. Embed
// session ids are minted by the visitor's browser, not by the server.
func (s *Service) EnsureSession(_ context.Context, embedID, sessionID string) (chat.Session, error) {
	if err := validate(embedID, sessionID); err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(embedID, sessionID), nil
}

// SaveMessage appends a message to the session history, creating the
// session if needed.
func (s *Service) SaveMessage(_ context.Context, embedID, sessionID string, message chat.Message) (chat.Message, error) {
	if err := validate(embedID, sessionID); err != nil {
		return chat.Message{}, err
	}
	message = stamp(message)

	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.ensureLocked(embedID, sessionID)
	s.messages[session.Key()] = append(s.messages[session.Key()], message)
	return message, nil
}

// SaveToSession appends a message only while session is still the live
// incarnation. After a reset it returns ErrSessionReset and stores nothing.
func (s *Service) SaveToSession(_ context.Context, session chat.Session, message chat.Message) (chat.Message, error) {
	if err := validate(session.EmbedID, session.ID); err != nil {
		return chat.Message{}, err
	}
	message = stamp(message)

	key := session.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[key]
	if !ok || current.Generation != session.Generation {
		return chat.Message{}, ErrSessionReset
	}
	s.messages[key] = append(s.messages[key], message)
	return message, nil
}

// LoadTranscript returns stored messages for the session. Unknown sessions
// have an empty transcript.
func (s *Service) LoadTranscript(_ context.Context, embedID, sessionID string) ([]chat.Message, error) {
	if err := validate(embedID, sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[chat.SessionKey(embedID, sessionID)]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// ResetSession drops the session and its transcript.
func (s *Service) ResetSession(_ context.Context, embedID, sessionID string) error {
	if err := validate(embedID, sessionID); err != nil {
		return err
	}

	key := chat.SessionKey(embedID, sessionID)

	s.mu.Lock()
	delete(s.sessions, key)
	delete(s.messages, key)
	s.mu.Unlock()
	return nil
}

func (s *Service) ensureLocked(embedID, sessionID string) chat.Session {
	key := chat.SessionKey(embedID, sessionID)
	if session, ok := s.sessions[key]; ok {
		return session
	}

	s.lastGen++
	session := chat.Session{
		EmbedID:    embedID,
		ID:         sessionID,
		CreatedAt:  time.Now().UTC(),
		Generation: s.lastGen,
	}
	s.sessions[key] = session
	s.messages[key] = make([]chat.Message, 0, 16)
	return session
}

func stamp(message chat.Message) chat.Message {
	if message.UUID == "" {
		message.UUID = uuid.NewString()
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}
	return message
}

func validate(embedID, sessionID string) error {
	if embedID == "" {
		return ErrEmbedRequired
	}
	if sessionID == "" {
		return ErrSessionRequired
	}
	return nil
}
