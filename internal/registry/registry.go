// In-memory service registry.
//
// DESIGN: The registry is a plain concurrent store of service
// descriptors keyed by name. It owns no runtime state: breaker
// lifecycles and health records are coordinated by the gateway when
// services come and go, so the registry can be swapped or prefilled
// in tests without dragging the rest of the system along.
//
// Descriptors are held and returned by value. Callers can mutate what
// Resolve hands them without affecting the stored entry.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relayforge/service-gateway/internal/breaker"
	"github.com/relayforge/service-gateway/internal/config"
	gwerrors "github.com/relayforge/service-gateway/internal/errors"
)

// Descriptor is the routing profile of one registered service.
type Descriptor struct {
	Name       string
	BaseURL    string
	HealthPath string
	Critical   bool

	CallTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// CacheTTL overrides the gateway-wide response cache TTL.
	// Zero means use the default.
	CacheTTL time.Duration

	Breaker breaker.Settings
}

// FromServiceConfig maps a validated service configuration block onto
// a descriptor, unwrapping config durations at the boundary.
func FromServiceConfig(sc config.ServiceConfig) Descriptor {
	return Descriptor{
		Name:         sc.Name,
		BaseURL:      sc.BaseURL,
		HealthPath:   sc.HealthPath,
		Critical:     sc.Critical,
		CallTimeout:  sc.CallTimeout.Std(),
		MaxRetries:   sc.MaxRetries,
		RetryBackoff: sc.RetryBackoff.Std(),
		CacheTTL:     sc.CacheTTL.Std(),
		Breaker: breaker.Settings{
			FailureThreshold:    sc.Breaker.FailureThreshold,
			OpenDuration:        sc.Breaker.OpenDuration.Std(),
			BackoffFactor:       sc.Breaker.BackoffFactor,
			MaxOpenDuration:     sc.Breaker.MaxOpenDuration.Std(),
			CountUpstreamErrors: sc.Breaker.CountUpstreamErrors,
		},
	}
}

// normalize trims the trailing slash from the base URL and forces a
// leading slash on the health path so URL joins stay predictable.
func (d *Descriptor) normalize() {
	d.BaseURL = strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
	if d.HealthPath != "" && !strings.HasPrefix(d.HealthPath, "/") {
		d.HealthPath = "/" + d.HealthPath
	}
}

// HealthURL returns the absolute URL polled by the health monitor.
func (d Descriptor) HealthURL() string {
	return d.BaseURL + d.HealthPath
}

// CallURL joins the base URL with a request endpoint.
func (d Descriptor) CallURL(endpoint string) string {
	if endpoint == "" {
		return d.BaseURL
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return d.BaseURL + endpoint
}

// Registry stores service descriptors keyed by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]Descriptor)}
}

// Register inserts the descriptor, replacing any existing entry with
// the same name.
func (r *Registry) Register(d Descriptor) error {
	d.normalize()
	if d.Name == "" {
		return fmt.Errorf("register: service name is required")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("register: service %q has no base URL", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[d.Name] = d
	return nil
}

// Unregister removes the named service and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.services[name]
	delete(r.services, name)
	return ok
}

// Resolve returns a copy of the named descriptor, or a
// service_not_found error.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.services[name]
	if !ok {
		return Descriptor{}, gwerrors.NewServiceNotFound(name)
	}
	return d, nil
}

// Has reports whether the named service is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns copies of all descriptors, sorted by name.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Descriptor, 0, len(r.services))
	for _, d := range r.services {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
