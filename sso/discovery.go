package sso

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// discovery resolves authorization endpoints from OIDC issuers and caches
// them per issuer.
type discovery struct {
	mu        sync.RWMutex
	endpoints map[string]string
}

func newDiscovery() *discovery {
	return &discovery{endpoints: make(map[string]string)}
}

func (d *discovery) authorizationEndpoint(ctx context.Context, issuer string) (string, error) {
	d.mu.RLock()
	endpoint, ok := d.endpoints[issuer]
	d.mu.RUnlock()
	if ok {
		return endpoint, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", errors.Wrapf(err, "[discovery] issuer %s", issuer)
	}
	endpoint = provider.Endpoint().AuthURL
	if endpoint == "" {
		return "", errors.Errorf("[discovery] issuer %s has no authorization endpoint", issuer)
	}

	d.mu.Lock()
	d.endpoints[issuer] = endpoint
	d.mu.Unlock()
	return endpoint, nil
}
