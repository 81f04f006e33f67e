// Package capacity answers one question for the dispatch engine: how many
// units of a downstream pipeline resource are active right now. Backends are
// registered in a closed registry so unknown provider types fail at
// configuration load, not at first dispatch.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/certhook/certhook/pkg/config"
)

// ErrUnknown wraps any backend failure. The engine must treat unknown
// capacity as "do not dispatch" and re-queue for a later tick.
var ErrUnknown = errors.New("capacity unknown")

type Provider interface {
	// Utilization returns the number of currently active units for a
	// resource. Backend failures are reported as errors wrapping
	// ErrUnknown.
	Utilization(ctx context.Context, resource, namespace string) (int, error)
}

// Registry is the closed set of provider backends built at startup.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(providerType string, provider Provider) {
	r.providers[providerType] = provider
}

func (r *Registry) Has(providerType string) bool {
	_, ok := r.providers[providerType]
	return ok
}

// TypesFromConfig reports which provider types the given deployment can
// serve: static always, redis and kubernetes only when their backends are
// configured. Both binaries validate targets against this same set, so a
// config the API server accepts is never one the dispatcher fatals on.
func TypesFromConfig(cfg *config.Config) func(string) bool {
	known := map[string]bool{TypeStatic: true}
	if len(cfg.Redis.Addresses) > 0 {
		known[TypeRedis] = true
	}
	if cfg.Kubernetes.InCluster || cfg.Kubernetes.KubeConfig != "" {
		known[TypeKubernetes] = true
	}
	return func(providerType string) bool {
		return known[providerType]
	}
}

func (r *Registry) Get(providerType string) (Provider, error) {
	provider, ok := r.providers[providerType]
	if !ok {
		return nil, fmt.Errorf("unregistered capacity provider type %q", providerType)
	}
	return provider, nil
}
