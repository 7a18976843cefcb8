// Package domains describes the categories of server state that are
// synchronized, how each is polled and how push events map onto it.
package domains

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

var (
	// ErrUnclassified is returned when no domain claims an event.
	ErrUnclassified = errors.New("domains: event not claimed by any domain")
	// ErrEmptyEvent is returned for list events that carry no usable items.
	ErrEmptyEvent = errors.New("domains: event carries no items")
)

// FetchFunc performs a full poll of one domain.
type FetchFunc func(ctx context.Context, api API) (snapshot.Mutation, error)

// ClassifyFunc turns a push event into a merge instruction.
type ClassifyFunc func(ev unraid.Event) (snapshot.Mutation, error)

// Domain is one row of the registry.
type Domain struct {
	Name      string
	List      bool
	Events    []unraid.EventType
	Fetch     FetchFunc
	Classify  ClassifyFunc
	Collector string // agent collector gating this domain
	// Service names a settings domain whose value, once it reports the
	// service as disabled, disables this domain too.
	Service string

	// Required domains decide whether a poll cycle counts as a failure.
	Required bool
}

// AsRequired returns a copy of d marked as required.
func (d Domain) AsRequired() Domain {
	d.Required = true
	return d
}

// GatedBy returns a copy of d that is disabled while the settings domain
// service reports its service as off.
func (d Domain) GatedBy(service string) Domain {
	d.Service = service
	return d
}

// Registry is an immutable set of domains indexed by name and event type.
type Registry struct {
	domains []Domain
	byName  map[string]int
	byEvent map[unraid.EventType]int
}

// NewRegistry validates the domain table. At least one domain must be
// required; names and event types must be unique.
func NewRegistry(domains ...Domain) (*Registry, error) {
	r := &Registry{
		domains: make([]Domain, 0, len(domains)),
		byName:  make(map[string]int, len(domains)),
		byEvent: make(map[unraid.EventType]int),
	}

	required := 0
	for _, d := range domains {
		if d.Name == "" {
			return nil, fmt.Errorf("domains: domain without name")
		}
		if d.Fetch == nil {
			return nil, fmt.Errorf("domains: %s has no fetch function", d.Name)
		}
		if len(d.Events) > 0 && d.Classify == nil {
			return nil, fmt.Errorf("domains: %s declares events without a classifier", d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("domains: duplicate domain %s", d.Name)
		}
		idx := len(r.domains)
		for _, et := range d.Events {
			if other, dup := r.byEvent[et]; dup {
				return nil, fmt.Errorf("domains: event %s claimed by %s and %s", et, r.domains[other].Name, d.Name)
			}
			r.byEvent[et] = idx
		}
		if d.Required {
			required++
		}
		r.byName[d.Name] = idx
		r.domains = append(r.domains, d)
	}

	if required == 0 {
		return nil, fmt.Errorf("domains: at least one required domain is needed")
	}
	for _, d := range r.domains {
		if d.Service == "" {
			continue
		}
		if _, ok := r.byName[d.Service]; !ok || d.Service == d.Name {
			return nil, fmt.Errorf("domains: %s is gated by unknown service domain %s", d.Name, d.Service)
		}
	}
	return r, nil
}

// All returns the domains in registration order.
func (r *Registry) All() []Domain {
	out := make([]Domain, len(r.domains))
	copy(out, r.domains)
	return out
}

// Get looks a domain up by name.
func (r *Registry) Get(name string) (Domain, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Domain{}, false
	}
	return r.domains[idx], true
}

// Names returns all domain names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d.Name)
	}
	return out
}

// Collectors returns the distinct collector names, sorted.
func (r *Registry) Collectors() []string {
	seen := make(map[string]struct{})
	for _, d := range r.domains {
		if d.Collector != "" {
			seen[d.Collector] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// GatedBy returns the names of domains gated by the settings domain service.
func (r *Registry) GatedBy(service string) []string {
	var out []string
	for _, d := range r.domains {
		if d.Service == service {
			out = append(out, d.Name)
		}
	}
	return out
}

// RequiredCollectors returns collectors backing required domains.
func (r *Registry) RequiredCollectors() map[string]bool {
	out := make(map[string]bool)
	for _, d := range r.domains {
		if d.Required && d.Collector != "" {
			out[d.Collector] = true
		}
	}
	return out
}

// Classify maps an event to its domain and merge instruction.
func (r *Registry) Classify(ev unraid.Event) (Domain, snapshot.Mutation, error) {
	if ev.Type == unraid.EventEmptyList {
		return Domain{}, snapshot.Mutation{}, ErrEmptyEvent
	}
	idx, ok := r.byEvent[ev.Type]
	if !ok {
		return Domain{}, snapshot.Mutation{}, fmt.Errorf("%w: %s", ErrUnclassified, ev.Type)
	}
	d := r.domains[idx]
	m, err := d.Classify(ev)
	if err != nil {
		return d, snapshot.Mutation{}, fmt.Errorf("classify %s event for %s: %w", ev.Type, d.Name, err)
	}
	return d, m, nil
}

// Record builds a scalar domain whose poll and push payloads decode into T.
// fetch is usually a method expression such as API.GetUPS.
func Record[T any](name, collector string, fetch func(API, context.Context) (*T, error), events ...unraid.EventType) Domain {
	d := Domain{
		Name:      name,
		Collector: collector,
		Events:    events,
		Fetch: func(ctx context.Context, api API) (snapshot.Mutation, error) {
			v, err := fetch(api, ctx)
			if err != nil {
				return snapshot.Mutation{}, err
			}
			if v == nil {
				return snapshot.Mutation{}, fmt.Errorf("%s: empty response", name)
			}
			return snapshot.Replace(*v), nil
		},
	}
	if len(events) > 0 {
		d.Classify = func(ev unraid.Event) (snapshot.Mutation, error) {
			v, err := unraid.DecodeObject[T](ev.Data)
			if err != nil {
				return snapshot.Mutation{}, err
			}
			return snapshot.Replace(v), nil
		}
	}
	return d
}

// List builds a keyed list domain. Poll results replace the whole list;
// push events upsert the items they carry.
func List[T any](name, collector string, key func(T) string, fetch func(API, context.Context) ([]T, error), events ...unraid.EventType) Domain {
	toItems := func(values []T) []snapshot.Item {
		out := make([]snapshot.Item, 0, len(values))
		for _, v := range values {
			k := key(v)
			if k == "" {
				continue
			}
			out = append(out, snapshot.Item{Key: k, Value: v})
		}
		return out
	}

	d := Domain{
		Name:      name,
		Collector: collector,
		List:      true,
		Events:    events,
		Fetch: func(ctx context.Context, api API) (snapshot.Mutation, error) {
			values, err := fetch(api, ctx)
			if err != nil {
				return snapshot.Mutation{}, err
			}
			return snapshot.ReplaceList(toItems(values)), nil
		},
	}
	if len(events) > 0 {
		d.Classify = func(ev unraid.Event) (snapshot.Mutation, error) {
			values, err := unraid.DecodeItems[T](ev.Data)
			if err != nil {
				return snapshot.Mutation{}, err
			}
			items := toItems(values)
			if len(items) == 0 {
				return snapshot.Mutation{}, ErrEmptyEvent
			}
			return snapshot.Upsert(items...), nil
		}
	}
	return d
}
