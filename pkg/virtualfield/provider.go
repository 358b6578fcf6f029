// ABOUTME: Lazily built, shared virtual field registry
// ABOUTME: First caller builds; concurrent callers wait and then share the same instance

package virtualfield

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
)

// Provider owns the registry of one repository context
type Provider struct {
	tm  schema.TypeManager
	gen *ids.Generator

	Log     *logger.Logger
	Metrics *metrics.Metrics

	mu       sync.Mutex
	registry atomic.Pointer[Registry]
}

// NewProvider creates a provider. Nothing is built until the first Get.
func NewProvider(tm schema.TypeManager, gen *ids.Generator) *Provider {
	return &Provider{tm: tm, gen: gen}
}

// Get returns the registry, building it on first use.
// A failed build returns an *InitError and leaves the provider uninitialized.
func (p *Provider) Get(ctx context.Context) (*Registry, error) {
	if r := p.registry.Load(); r != nil {
		return r, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.registry.Load(); r != nil {
		return r, nil
	}

	r, err := Build(ctx, p.tm, p.gen)
	if err != nil {
		p.Metrics.RecordRegistryBuild("error")
		logger.OrNop(p.Log).Error("virtual field registry build failed").Err(err).Send()
		return nil, err
	}

	p.registry.Store(r)
	p.Metrics.RecordRegistryBuild("success")
	logger.OrNop(p.Log).Debug("virtual field registry built").Int("fields", r.Len()).Send()
	return r, nil
}

// Initialized reports whether a registry has been built
func (p *Provider) Initialized() bool {
	return p.registry.Load() != nil
}
