package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/model/embed"
)

var ErrScopeRequired = errors.New("session scope key is required")

// ScopeKey is the storage key for the session id of one embed.
func ScopeKey(settings embed.Settings) string {
	return "allm_" + settings.EmbedID + "_session_id"
}

// Provider hands out a stable session id per scope. Ids are cached after the
// first lookup so the backing store is touched once per boot.
type Provider struct {
	store  Store
	newID  func() string
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// Option customises a Provider.
type Option func(*Provider)

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Provider) { p.newID = fn }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// NewProvider wraps a Store.
func NewProvider(store Store, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		newID:  uuid.NewString,
		logger: zerolog.Nop(),
		cache:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate returns the stored id for scopeKey, generating and persisting
// one when none exists.
func (p *Provider) GetOrCreate(ctx context.Context, scopeKey string) (string, error) {
	if scopeKey == "" {
		return "", ErrScopeRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.cache[scopeKey]; ok {
		return id, nil
	}

	id, ok, err := p.store.Get(ctx, scopeKey)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "load session id for %s", scopeKey)
	}
	if ok && id != "" {
		p.cache[scopeKey] = id
		return id, nil
	}

	id = p.newID()
	if err := p.store.Set(ctx, scopeKey, id); err != nil {
		return "", pkgerrors.Wrapf(err, "persist session id for %s", scopeKey)
	}
	p.cache[scopeKey] = id
	p.logger.Debug().Str("scope", scopeKey).Str("session_id", id).Msg("created session id")
	return id, nil
}

// Regenerate replaces the id for scopeKey. Only an explicit reset asks for this.
func (p *Provider) Regenerate(ctx context.Context, scopeKey string) (string, error) {
	if scopeKey == "" {
		return "", ErrScopeRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.newID()
	if err := p.store.Set(ctx, scopeKey, id); err != nil {
		return "", pkgerrors.Wrapf(err, "persist session id for %s", scopeKey)
	}
	p.cache[scopeKey] = id
	p.logger.Info().Str("scope", scopeKey).Str("session_id", id).Msg("regenerated session id")
	return id, nil
}
