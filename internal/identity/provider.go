package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/util"
)

type Provider struct {
	store  Store
	newID  func() string
	digest func(string) string

	mu       sync.Mutex
	cached   string
	degraded sync.Once
}

type Option func(*Provider)

// WithDigest replaces the secure digest. A nil func selects the degraded
// fallback (identifier without dashes), which offers no secrecy.
func WithDigest(fn func(string) string) Option {
	return func(p *Provider) {
		p.digest = fn
	}
}

func WithGenerator(fn func() string) Option {
	return func(p *Provider) {
		p.newID = fn
	}
}

func NewProvider(store Store, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		newID:  uuid.NewString,
		digest: util.HashToken,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetIdentity returns the persisted identifier, creating one on first use.
func (p *Provider) GetIdentity(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	stored, err := p.store.Load(ctx)
	if err != nil {
		return "", apperrors.Storage(err)
	}

	if stored = strings.TrimSpace(stored); stored != "" {
		p.cached = stored
		log.Debug().Msg("using existing device identity")
		return stored, nil
	}

	id := p.newID()
	if err := p.store.Save(ctx, id); err != nil {
		return "", apperrors.Storage(err)
	}
	p.cached = id
	log.Info().Msg("generated new device identity")
	return id, nil
}

// GetIdentityDigest returns the one-way digest of the current identifier.
func (p *Provider) GetIdentityDigest(ctx context.Context) (string, error) {
	id, err := p.GetIdentity(ctx)
	if err != nil {
		return "", err
	}
	return p.digestOf(id), nil
}

func (p *Provider) digestOf(id string) string {
	if p.digest == nil {
		p.degraded.Do(func() {
			log.Warn().Msg("secure digest unavailable, using reduced identifier transform")
		})
		return strings.ReplaceAll(id, "-", "")
	}
	return p.digest(id)
}

// Reset discards the identifier; the backend will see the next one as a new user.
func (p *Provider) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Delete(ctx); err != nil {
		return apperrors.Storage(err)
	}
	p.cached = ""
	log.Info().Msg("device identity reset")
	return nil
}
