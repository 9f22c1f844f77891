// Package app wires the client runtime shared by the bridge and the terminal
// client: identity, transport, session machine and backend API.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/api"
	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/identity"
	"github.com/controlled-anonymity/client-go/internal/redis"
	"github.com/controlled-anonymity/client-go/internal/session"
	"github.com/controlled-anonymity/client-go/internal/transport"
	"github.com/controlled-anonymity/client-go/internal/util"
)

type App struct {
	Identity  *identity.Provider
	Transport *transport.Transport
	Session   *session.Machine
	API       *api.Client

	closers []func() error
}

// New builds the runtime from cfg. The session machine is not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	store, err := a.identityStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Identity = identity.NewProvider(store)

	digest, err := a.Identity.GetIdentityDigest(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load identity: %w", err)
	}
	log.Info().Str("digest", util.ShortHash(digest)).Msg("identity loaded")

	tcfg := transport.DefaultConfig(cfg.ChatURL(digest))
	tcfg.BaseDelay = cfg.ReconnectBaseDelay()
	tcfg.MaxAttempts = cfg.ReconnectMaxAttempts
	a.Transport = transport.New(tcfg, transport.WithURLResolver(a.chatURL(cfg)))

	a.Session = session.New(a.Transport)
	a.API = api.NewClient(cfg.APIBaseURL, a.Identity, cfg.RequestTimeout())

	return a, nil
}

func (a *App) chatURL(cfg *config.Config) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		digest, err := a.Identity.GetIdentityDigest(ctx)
		if err != nil {
			return "", err
		}
		return cfg.ChatURL(digest), nil
	}
}

func (a *App) identityStore(cfg *config.Config) (identity.Store, error) {
	if cfg.IdentityRedisURL != "" {
		client, err := redis.NewClient(cfg.IdentityRedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect identity redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		log.Info().Msg("identity stored in redis")
		return identity.NewRedisStore(client, redis.IdentityKey(cfg.IdentityProfile)), nil
	}

	dir, err := identityDir(cfg)
	if err != nil {
		return nil, err
	}
	store := identity.NewFileStore(dir, cfg.IdentityEncryptionKey, cfg.IdentityProfile)
	log.Info().Str("path", store.Path()).Msg("identity stored on disk")
	return store, nil
}

func identityDir(cfg *config.Config) (string, error) {
	if cfg.IdentityDir != "" {
		return cfg.IdentityDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve identity dir: %w", err)
	}
	dir := filepath.Join(base, "controlled-anonymity")
	if cfg.IdentityProfile != "" {
		dir = filepath.Join(dir, cfg.IdentityProfile)
	}
	return dir, nil
}

// Close tears down the chat connection and any store connections.
func (a *App) Close() error {
	if a.Transport != nil {
		a.Transport.Close()
	}
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
