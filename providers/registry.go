package providers

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry manages the registration and retrieval of providers.
// It provides thread-safe access to provider constructors and supports
// dynamic provider registration.
type ProviderRegistry struct {
	providers map[string]ProviderConstructor
	mutex     sync.RWMutex
}

var (
	defaultRegistry     *ProviderRegistry
	defaultRegistryOnce sync.Once
)

// GetDefaultRegistry returns the process-wide registry holding every known provider.
func GetDefaultRegistry() *ProviderRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewProviderRegistry()
	})
	return defaultRegistry
}

// NewProviderRegistry creates a new provider registry with the specified providers.
// If no providers are specified, all known providers are registered by default.
func NewProviderRegistry(providerNames ...string) *ProviderRegistry {
	registry := &ProviderRegistry{
		providers: make(map[string]ProviderConstructor),
	}

	knownProviders := getKnownProviders()

	if len(providerNames) == 0 {
		for name, constructor := range knownProviders {
			registry.providers[name] = constructor
		}
		return registry
	}

	for _, name := range providerNames {
		if constructor, ok := knownProviders[name]; ok {
			registry.providers[name] = constructor
		}
	}
	return registry
}

// getKnownProviders returns all known provider constructors
func getKnownProviders() map[string]ProviderConstructor {
	return map[string]ProviderConstructor{
		"huggingface": NewHuggingFaceProvider,
		"tgi":         NewHuggingFaceProvider,
		"mock":        NewMockProvider,
	}
}

// Register adds a new provider constructor to the registry.
func (r *ProviderRegistry) Register(name string, constructor ProviderConstructor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[name] = constructor
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get retrieves a provider instance by name.
// It creates a new provider instance using the registered constructor.
func (r *ProviderRegistry) Get(name, apiKey, endpoint string, extraHeaders map[string]string) (Provider, error) {
	r.mutex.RLock()
	constructor, exists := r.providers[name]
	r.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	return constructor(apiKey, endpoint, extraHeaders), nil
}
