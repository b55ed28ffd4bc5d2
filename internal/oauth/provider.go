package oauth

// Provider bundles the components of the authorization server over one
// store.
type Provider struct {
	Config   Config
	Keys     *KeyManager
	Store    Store
	Registry *Registry
	Flow     *AuthorizationFlow
	Tokens   *TokenService
}

// NewProvider wires the registry, code flow and token service.
func NewProvider(cfg Config, keys *KeyManager, store Store, opts ...Option) (*Provider, error) {
	registry, err := NewRegistry(store, cfg.ClientCacheTTL, opts...)
	if err != nil {
		return nil, err
	}
	flow := NewAuthorizationFlow(cfg, registry, store, store, opts...)
	return &Provider{
		Config:   cfg,
		Keys:     keys,
		Store:    store,
		Registry: registry,
		Flow:     flow,
		Tokens:   NewTokenService(cfg, keys, store, registry, flow, opts...),
	}, nil
}
