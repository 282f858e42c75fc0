package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
)

// ErrCredentialsNotFound is returned when a credential reference is unknown
var ErrCredentialsNotFound = errors.New("ecommerce: credentials not found")

// Factory builds adapters from endpoint configuration and credentials
type Factory struct {
	configs  map[marketplace.Name]AdapterConfig
	observer marketplace.QuotaObserver
	logger   *zap.Logger
}

// NewFactory creates a factory. Marketplaces absent from configs use the
// production endpoints.
func NewFactory(configs map[marketplace.Name]AdapterConfig, observer marketplace.QuotaObserver, logger *zap.Logger) *Factory {
	if configs == nil {
		configs = make(map[marketplace.Name]AdapterConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{configs: configs, observer: observer, logger: logger}
}

// New creates the adapter for name
func (f *Factory) New(name marketplace.Name, creds marketplace.Credentials) (marketplace.Adapter, error) {
	config := f.configs[name]
	switch name {
	case marketplace.MercadoLivre:
		return NewMercadoLivreAdapter(config, creds, f.observer, f.logger)
	case marketplace.Amazon:
		return NewAmazonAdapter(config, creds, f.observer, f.logger)
	case marketplace.AliExpress:
		return NewAliExpressAdapter(config, creds, f.observer, f.logger)
	default:
		return nil, fmt.Errorf("%w: %q", marketplace.ErrInvalidMarketplace, name)
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry resolves adapters from stored connection settings and caches one
// instance per (marketplace, credential reference) so tokens are reused.
type Registry struct {
	factory     *Factory
	settings    marketplace.ConnectionSettingsRepository
	credentials marketplace.CredentialStore
	logger      *zap.Logger

	mu       sync.RWMutex
	adapters map[string]marketplace.Adapter
}

var _ marketplace.AdapterProvider = (*Registry)(nil)

// NewRegistry creates an adapter registry
func NewRegistry(factory *Factory, settings marketplace.ConnectionSettingsRepository, credentials marketplace.CredentialStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory:     factory,
		settings:    settings,
		credentials: credentials,
		logger:      logger,
		adapters:    make(map[string]marketplace.Adapter),
	}
}

// Adapter returns the adapter configured for name. Missing settings map to
// ErrMarketplaceNotConfigured and inactive settings to ErrMarketplaceNotEnabled.
func (r *Registry) Adapter(ctx context.Context, name marketplace.Name) (marketplace.Adapter, error) {
	if !name.IsValid() {
		return nil, marketplace.ErrMarketplaceNotConfigured
	}
	settings, err := r.settings.FindByMarketplace(ctx, name)
	if err != nil {
		if errors.Is(err, marketplace.ErrSettingsNotFound) {
			return nil, marketplace.ErrMarketplaceNotConfigured
		}
		return nil, err
	}
	if !settings.IsActive {
		return nil, marketplace.ErrMarketplaceNotEnabled
	}

	key := name.String() + "|" + settings.CredentialRef
	r.mu.RLock()
	adapter, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	creds, err := r.credentials.Resolve(ctx, name, settings.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}
	adapter, err = r.factory.New(name, creds)
	if err != nil {
		return nil, err
	}
	r.adapters[key] = adapter
	r.logger.Info("Marketplace adapter created",
		zap.String("marketplace", name.String()),
		zap.String("credential_ref", settings.CredentialRef),
	)
	return adapter, nil
}

// Invalidate drops cached adapters of name so the next lookup rebuilds them
func (r *Registry) Invalidate(name marketplace.Name) {
	prefix := name.String() + "|"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.adapters {
		if strings.HasPrefix(key, prefix) {
			delete(r.adapters, key)
		}
	}
}

// ---------------------------------------------------------------------------
// StaticCredentialStore
// ---------------------------------------------------------------------------

// StaticCredentialStore resolves credential references from configuration
type StaticCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]marketplace.Credentials
}

var _ marketplace.CredentialStore = (*StaticCredentialStore)(nil)

// NewStaticCredentialStore creates a store from reference → credentials
func NewStaticCredentialStore(creds map[string]marketplace.Credentials) *StaticCredentialStore {
	s := &StaticCredentialStore{creds: make(map[string]marketplace.Credentials, len(creds))}
	for ref, c := range creds {
		s.creds[ref] = c
	}
	return s
}

// Put registers credentials under ref
func (s *StaticCredentialStore) Put(ref string, creds marketplace.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[ref] = creds
}

// Resolve returns the credentials registered under ref
func (s *StaticCredentialStore) Resolve(_ context.Context, name marketplace.Name, ref string) (marketplace.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[ref]
	if !ok {
		return marketplace.Credentials{}, fmt.Errorf("%w: %s (%s)", ErrCredentialsNotFound, ref, name)
	}
	return c, nil
}
