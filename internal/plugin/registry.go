// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/log"
)

// Factory constructs an unconfigured Plugin; Load then passes the
// plugin's options to its Setup method.
type Factory func() Plugin

var (
	factoriesMu sync.Mutex
	factories   = map[string]Factory{}
)

// Register adds a plugin factory under name. Called from each plugin
// package's init(); panics on a duplicate name since that indicates a
// programming error at link time, not a runtime condition.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("plugin: factory %q already registered", name))
	}
	factories[name] = f
}

// PluginConfig names one configured plugin instance and its setup
// options.
type PluginConfig struct {
	FactoryName string
	Options     map[string]string
}

// Registry holds the loaded, resource-type-indexed set of plugins.
type Registry struct {
	byResourceType map[string]Plugin
}

// Load instantiates the configured plugins. A missing factory name or
// a duplicate resource_type across loaded plugins fails startup with
// domain.ErrPluginConfiguration; a Setup error is logged and the
// plugin is skipped.
func Load(configs []PluginConfig) (*Registry, error) {
	factoriesMu.Lock()
	snapshot := make(map[string]Factory, len(factories))
	for name, f := range factories {
		snapshot[name] = f
	}
	factoriesMu.Unlock()

	byResourceType := map[string]Plugin{}

	for _, cfg := range configs {
		factory, ok := snapshot[cfg.FactoryName]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrPluginConfiguration, cfg.FactoryName)
		}

		p := factory()
		if err := p.Setup(cfg.Options); err != nil {
			log.L().Error().Err(err).Str(log.FieldPluginName, cfg.FactoryName).Msg("plugin setup failed, skipping")
			continue
		}

		rt := p.ResourceType()
		if _, dup := byResourceType[rt]; dup {
			return nil, fmt.Errorf("%w: resource_type %q claimed by more than one plugin", domain.ErrPluginConfiguration, rt)
		}
		byResourceType[rt] = p
	}

	return &Registry{byResourceType: byResourceType}, nil
}

// Get returns the plugin responsible for resourceType, or false if
// none is configured.
func (r *Registry) Get(resourceType string) (Plugin, bool) {
	p, ok := r.byResourceType[resourceType]
	return p, ok
}

// ResourceTypes returns the configured resource types in sorted order.
func (r *Registry) ResourceTypes() []string {
	out := make([]string, 0, len(r.byResourceType))
	for rt := range r.byResourceType {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}
