/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/4sarathbabu/blazar/pkg/errs"
)

// Factory constructs a named plugin implementation. Factories register
// by name at link time (spec §9 design note: no reflection on class
// attributes), the same way the teacher's registry.NewCloudProvider
// resolves a fixed, compiled-in set of providers.
type Factory func() Plugin

// Registry resolves a Plugin by resource type. It is constructed once
// at startup and injected into LeaseService and the EventEngine; there
// is no process-global plugin state (spec §9).
type Registry struct {
	byType map[string]Plugin
}

// NewRegistry instantiates every plugin named in configured by looking
// it up in factories, and fails if any configured name is unknown or
// if two plugins claim the same resource type.
func NewRegistry(ctx context.Context, configured []string, factories map[string]Factory, confGroups map[string]map[string]string) (*Registry, error) {
	r := &Registry{byType: map[string]Plugin{}}
	for _, name := range configured {
		factory, ok := factories[name]
		if !ok {
			return nil, errs.Newf(errs.PluginConfigurationError, "no plugin registered under name %q", name)
		}
		p := factory()
		rt := p.ResourceType()
		if _, exists := r.byType[rt]; exists {
			return nil, errs.Newf(errs.PluginConfigurationError, "resource type %q is claimed by more than one plugin", rt)
		}
		if err := p.Setup(ctx, confGroups[rt]); err != nil {
			return nil, errs.Wrap(errs.PluginConfigurationError, err, "plugin", name)
		}
		r.byType[rt] = p
	}
	return r, nil
}

// Get resolves the plugin registered for resourceType.
func (r *Registry) Get(resourceType string) (Plugin, error) {
	p, ok := r.byType[resourceType]
	if !ok {
		return nil, errs.Newf(errs.UnsupportedResourceType, "unsupported resource type %q", resourceType)
	}
	return p, nil
}

// ResourceTypes returns the sorted set of resource types this registry
// has plugins for.
func (r *Registry) ResourceTypes() []string {
	types := lo.Keys(r.byType)
	sort.Strings(types)
	return types
}

// All returns every registered plugin, useful for components (Monitor)
// that poll across resource types uniformly.
func (r *Registry) All() []Plugin {
	return lo.Values(r.byType)
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry{%v}", r.ResourceTypes())
}
